package main

import "github.com/agentic-research/contentsync/cmd"

func main() {
	cmd.Execute()
}
