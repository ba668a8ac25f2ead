// Package main provides the ragbench CLI entrypoint.
//
// Usage:
//
//	ragbench chat [--config FILE] [--context FILE] [--rag] [files...]
//	ragbench ingest [--config FILE] files...
//	ragbench bench [--config FILE] [--rag] [--format table|json|yaml] QA.json [files...]
//	ragbench context show FILE
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragbench",
		Usage: "Chat with a local Ollama model over your own documents",
		Commands: []*cli.Command{
			chatCommand(),
			ingestCommand(),
			benchCommand(),
			contextCommand(),
		},
	}
}
