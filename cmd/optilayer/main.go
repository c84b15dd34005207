// Package main provides the optilayer CLI for exercising and inspecting the
// resource-optimization layer.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
