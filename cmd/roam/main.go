package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/roamkit/roam/internal/cli"
)

func main() {
	// Optional .env for local runs; absence is not an error.
	_ = godotenv.Load()

	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
