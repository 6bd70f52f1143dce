// Package main provides qac, an interactive Q&A chat with a persistent
// answer cache and an Ollama fallback for misses.
package main

import (
	"os"

	"github.com/calvinalkan/qacache/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args[1:]))
}
