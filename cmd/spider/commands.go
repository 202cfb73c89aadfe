// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"github.com/mitchellh/cli"
)

// commands is the mapping of all available spider subcommands.
var commands map[string]cli.CommandFactory

// Ui is the cli.Ui used for communicating to the outside world.
var Ui cli.Ui

func init() {
	commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &RunCommand{Ui: Ui}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{Ui: Ui, Version: version}, nil
		},
	}
}

// NewBasicUI returns the cli.Ui spider uses for all subcommands,
// matching the teacher's command.NewBasicUI wiring.
func NewBasicUI() cli.Ui {
	return &cli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
		Reader:      os.Stdin,
	}
}
