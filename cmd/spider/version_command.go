// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/mitchellh/cli"
)

// VersionCommand prints the spider CLI's own version.
type VersionCommand struct {
	Ui      cli.Ui
	Version string
}

func (c *VersionCommand) Help() string {
	return strings.TrimSpace(`
Usage: spider version

  Prints the version of the spider CLI and the Go runtime it was built with.
`)
}

func (c *VersionCommand) Synopsis() string {
	return "Show the spider CLI version"
}

func (c *VersionCommand) Run(args []string) int {
	c.Ui.Output(fmt.Sprintf("spider v%s (%s)", c.Version, runtime.Version()))
	return 0
}
