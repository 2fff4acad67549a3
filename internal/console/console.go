// Package console runs the interactive survey loop on a terminal or any
// line-oriented reader.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"pkt.systems/expertsurvey/internal/command"
	"pkt.systems/expertsurvey/internal/logx"
)

// DefaultPrompt is shown before each line on a terminal.
const DefaultPrompt = "survey> "

// Config configures a console session.
type Config struct {
	Prompt  string
	In      io.Reader
	Out     io.Writer
	Handler command.HandlerConfig
}

// Run reads lines until EOF, /quit or context cancellation. On a terminal the
// input is put in raw mode and edited with history; otherwise lines are read
// as-is and no prompt is drawn.
func Run(ctx context.Context, f command.Flow, cfg Config) error {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if file, ok := cfg.In.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return runTerminal(ctx, f, file, cfg)
	}
	return runLines(ctx, f, cfg)
}

func runLines(ctx context.Context, f command.Flow, cfg Config) error {
	h := command.NewHandler(f, cfg.Out, cfg.Handler)
	h.Start(ctx)
	scanner := bufio.NewScanner(cfg.In)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		done, err := dispatch(ctx, h, cfg.Out, scanner.Text())
		if err != nil || done {
			return err
		}
	}
	return scanner.Err()
}

func runTerminal(ctx context.Context, f command.Flow, file *os.File, cfg Config) error {
	fd := int(file.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("console raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{file, cfg.Out}, cfg.Prompt)
	if width, height, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(width, height)
	}
	h := command.NewHandler(f, t, cfg.Handler)
	h.Start(ctx)
	for ctx.Err() == nil {
		line, err := t.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		done, err := dispatch(ctx, h, t, line)
		if err != nil || done {
			return err
		}
	}
	return nil
}

// dispatch runs one line and reports true when the session should end.
// Command errors are printed; only write failures are returned.
func dispatch(ctx context.Context, h *command.Handler, out io.Writer, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	handled, err := h.Handle(ctx, line)
	switch {
	case errors.Is(err, command.ErrQuit):
		return true, nil
	case err != nil:
		logx.Ctx(ctx).Debug("console command failed", "err", err)
		_, werr := fmt.Fprintf(out, "error: %v\n", err)
		return false, werr
	case !handled:
		_, werr := io.WriteString(out, "commands start with / (try /help)\n")
		return false, werr
	}
	return false, nil
}
