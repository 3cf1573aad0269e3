package main

import (
	"fmt"
	"os"

	"github.com/anthanhphan/appcontroller/internal/appctl"
)

func main() {
	if err := appctl.NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
