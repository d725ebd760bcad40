// Package main is the entry point for consolectl, a command line client that
// shares the console's session and tenant stores through files on disk.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
