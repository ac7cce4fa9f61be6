package main

import (
	"fmt"
	"os"

	"example.com/kinexsync/internal/cli"
	"example.com/kinexsync/internal/config"
)

func main() {
	cmd := cli.NewRootCommand(config.Load())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
