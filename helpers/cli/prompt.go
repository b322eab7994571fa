// Package cli runs line oriented interactive commands.
// Terminal gets go-prompt with completion, pipe input is executed line by line.
package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type ExecFunc func(line string)
type CompleteFunc func(d prompt.Document) []prompt.Suggest

// MainLoop returns after EOF on piped input.
// Interactive prompt owns the terminal until `exit`, Ctrl-D or signal,
// then onExit runs and process exits.
func MainLoop(tag string, exec ExecFunc, complete CompleteFunc, onExit func()) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		if _, ok := <-signalCh; ok {
			onExit()
			os.Exit(1)
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		prompt.New(
			func(line string) {
				if IsExit(line) {
					onExit()
					os.Exit(0)
				}
				exec(strings.TrimSpace(line))
			},
			prompt.Completer(complete),
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return ReadLines(os.Stdin, exec)
}

// ReadLines executes each non-empty trimmed line until EOF or exit command.
func ReadLines(r io.Reader, exec ExecFunc) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if IsExit(line) {
			return nil
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "cli read")
}

func IsExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "quit":
		return true
	}
	return false
}

// Suggest filters static suggestions by word before cursor.
func Suggest(d prompt.Document, suggests []prompt.Suggest) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}
