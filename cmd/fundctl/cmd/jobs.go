package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/sched"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage background jobs",
	Long: `Inspect and manage background jobs.

Subcommands:
  enqueue - Enqueue a job (duplicates of a live job collapse)
  get     - Show a job by ID
  cancel  - Cancel a pending job

Examples:
  fundctl jobs enqueue nav_sync
  fundctl jobs get <job-id>
  fundctl jobs cancel <job-id>`,
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <job-type>",
	Short: "Enqueue a job for immediate execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsEnqueue,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var (
	jobsPayload     string
	jobsMaxAttempts int
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsEnqueueCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsEnqueueCmd.Flags().StringVar(&jobsPayload, "payload", "", "opaque job payload")
	jobsEnqueueCmd.Flags().IntVar(&jobsMaxAttempts, "max-attempts", 3, "retry budget")
}

func runJobsEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := sched.NewScheduler(st, jobsMaxAttempts).Enqueue(ctx, model.JobType(args[0]), jobsPayload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	printJob(job)
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := st.GetJob(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printJob(job)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := sched.NewScheduler(st, jobsMaxAttempts).Cancel(ctx, args[0])
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	printJob(job)
	return nil
}

func printJob(job *model.Job) {
	fmt.Printf("job:          %s\n", job.JobID)
	fmt.Printf("type:         %s\n", job.JobType)
	fmt.Printf("status:       %s\n", job.Status)
	fmt.Printf("scheduled at: %s\n", job.ScheduledAt.Format(time.RFC3339))
	fmt.Printf("attempt:      %d/%d\n", job.Attempt, job.MaxAttempts)
	if job.Error != "" {
		fmt.Printf("last error:   %s\n", job.Error)
	}
}
