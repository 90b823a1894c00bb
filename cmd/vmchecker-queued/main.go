// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Command vmchecker-queued is the queue manager executable: one binary,
// one command, driven entirely by flags.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/vmchecker/queuemanager/command"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	agent := &command.AgentCommand{UI: os.Stdout}

	c := cli.NewCLI("vmchecker-queued", "0.1.0")
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"": func() (cli.Command, error) { return agent, nil },
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}
