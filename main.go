// Package main is the entry point for the whatdid CLI.
package main

import (
	"fmt"
	"os"

	"github.com/whatdid/whatdid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
