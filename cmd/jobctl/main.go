package main

import (
	"os"

	"jobrelay/cmd/jobctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
