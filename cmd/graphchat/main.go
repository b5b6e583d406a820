// Command graphchat is the entry point for graphchat: chat over uploaded
// PDFs and turn the conversation into a knowledge graph.
// It provides a CLI interface (via Cobra) and an HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/graphchat-go/cmd/graphchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
