// Package main provides the listpress CLI, which turns uploaded word lists
// and rule files into canonical gzip objects.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
