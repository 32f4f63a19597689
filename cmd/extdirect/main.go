// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/extdirect/cmd/extdirect/commands"
)

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the extdirect command line tool and returns its exit code.
func Main(args []string) int {
	code, err := commands.Main(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %v\n", err)
	}
	return code
}
