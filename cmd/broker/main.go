package main

import (
	"fmt"
	"os"
)

const (
	appName    = "topicrelay-broker"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := newRootCommand(os.Stdin)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
