// Package main is the entry point for the chatagent CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatagent:", err)
		os.Exit(1)
	}
}
