// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

// version is the CLI's own reported version; Spider is a library, so
// this identifies the scenario-runner tool, not the scheduling engine.
const version = "0.1.0"

func init() {
	Ui = NewBasicUI()
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	args := os.Args[1:]

	c := &cli.CLI{
		Name:       "spider",
		Args:       args,
		Commands:   commands,
		HelpFunc:   cli.BasicHelpFunc("spider"),
		HelpWriter: os.Stdout,
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "spider: %s\n", err)
		return 1
	}
	return exitCode
}
