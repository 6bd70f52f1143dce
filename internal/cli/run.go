// Package cli wires the answer-cache engine into an interactive chat
// command: config file loading, flag parsing, and the REPL.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/qacache/internal/engine"
	"github.com/calvinalkan/qacache/internal/fs"
)

// Run is the main entry point. Returns exit code.
func Run(out io.Writer, errOut io.Writer, args []string) int {
	flags := flag.NewFlagSet("qac", flag.ContinueOnError)
	flags.SetOutput(errOut)

	var (
		configPath = flags.StringP("config", "c", "", "path to JSONC config file (default: qac.json if present)")
		dbFile     = flags.String("db", "", "override the cache base filename")
		baseURL    = flags.String("url", "", "override the Ollama base URL")
		model      = flags.String("model", "", "override the model name")
		verbose    = flags.BoolP("verbose", "v", false, "enable debug logging")
	)

	if err := flags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}

		return 1
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	// Flag overrides beat the config file.
	if *dbFile != "" {
		cfg.BaseFile = *dbFile
	}

	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}

	if *model != "" {
		cfg.Model = *model
	}

	log := newLogger(errOut, *verbose)

	eng := engine.New(fs.NewReal(), log, cfg, nil)

	repl := &REPL{engine: eng, out: out}
	if err := repl.Run(); err != nil {
		fmt.Fprintln(errOut, "error:", err)

		return 1
	}

	return 0
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(level).With().Timestamp().Logger()
}
