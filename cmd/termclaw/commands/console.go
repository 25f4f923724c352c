package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newConsoleCmd creates the `termclaw console` command, a local REPL that
// feeds the same relay entrypoints a remote client would.
func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Local REPL for driving sessions without a transport",
		Long: `Interactive console. Lines are "<token> <command>" pairs, injected
exactly like remote input; callback strings go through /cb.

Commands:
  <token> <command>   inject a command into the matched session
  /cb <data>          handle a callback string (perm:..., opt:..., new:...)
  /quit               exit`,
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("console requires an interactive terminal")
	}

	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	a, err := buildApp(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.New("termclaw> ")
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("termclaw console. <token> <command> to inject, /cb <data> for callbacks, /quit to exit.")

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil

		case strings.HasPrefix(line, "/cb "):
			reply, err := a.relay.HandleCallback(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/cb")))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if reply == "" {
				reply = "(malformed callback, ignored)"
			}
			fmt.Println(reply)

		case strings.HasPrefix(line, "/"):
			fmt.Println("unknown console command:", line)

		default:
			token, command, found := strings.Cut(line, " ")
			if !found {
				fmt.Println("usage: <token> <command>")
				continue
			}
			reply, err := a.relay.HandleCommand(ctx, token, command)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(reply)
		}
	}
}
