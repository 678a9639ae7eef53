package main

import "github.com/relaycore/claude-router/cmd"

func main() {
	cmd.Execute()
}
