package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/qacache/internal/engine"
)

// REPL is the interactive chat loop. Free text is resolved through the
// engine; lines starting with ':' are commands.
type REPL struct {
	engine *engine.Engine
	out    io.Writer

	// conversationID carries across turns within one session.
	conversationID string
	liner          *liner.State
}

// historyFile returns the path to the history file.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".qac_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintln(r.out, "qac - cached Q&A chat. Type ':help' for commands.")
	fmt.Fprintln(r.out)

	for {
		line, err := r.liner.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		if done := r.dispatch(line); done {
			break
		}
	}

	r.saveHistory()

	return nil
}

// dispatch handles one input line. Returns true when the session is over.
func (r *REPL) dispatch(line string) bool {
	if !strings.HasPrefix(line, ":") {
		res := r.engine.Respond(context.Background(), engine.Input{
			Text:           line,
			ConversationID: r.conversationID,
		})
		r.conversationID = res.ConversationID

		fmt.Fprintf(r.out, "bot> %s\n", res.Answer)

		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case ":quit", ":exit", ":q":
		fmt.Fprintln(r.out, "Bye!")

		return true

	case ":help", ":?":
		r.printHelp()

	case ":config":
		formatted, err := FormatConfig(r.engine.Config())
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)

			break
		}

		fmt.Fprintln(r.out, formatted)

	case ":policy":
		r.cmdPolicy(args)

	case ":reload":
		r.engine.Reload()
		fmt.Fprintf(r.out, "reloaded, %d records\n", r.engine.Len())

	case ":stats":
		fmt.Fprintf(r.out, "%d records in the active store\n", r.engine.Len())

	default:
		fmt.Fprintf(r.out, "unknown command: %s (type ':help' for commands)\n", cmd)
	}

	return false
}

// cmdPolicy toggles the matching policy, migrating the store pair.
func (r *REPL) cmdPolicy(args []string) {
	cfg := r.engine.Config()

	if len(args) == 0 {
		fmt.Fprintf(r.out, "match_punctuation = %v\n", cfg.MatchPunctuation)

		return
	}

	switch strings.ToLower(args[0]) {
	case "on", "true":
		cfg.MatchPunctuation = true
	case "off", "false":
		cfg.MatchPunctuation = false
	default:
		fmt.Fprintln(r.out, "usage: :policy [on|off]")

		return
	}

	r.engine.Apply(cfg)
	fmt.Fprintf(r.out, "match_punctuation = %v, %d records active\n",
		cfg.MatchPunctuation, r.engine.Len())
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.out, `Free text is answered from the cache or the model.

Commands:
  :config            Show the effective configuration
  :policy [on|off]   Show or set punctuation matching (set triggers migration)
  :reload            Reload the active store from disk
  :stats             Show record count
  :quit              Exit
`)
}

// saveHistory persists input history to disk.
func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			_, _ = r.liner.WriteHistory(f)
			f.Close()
		}
	}
}
