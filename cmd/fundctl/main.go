package main

import (
	"os"

	"github.com/fundwatch/fund-engine/cmd/fundctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
