package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pkt.systems/expertsurvey/flow"
	"pkt.systems/expertsurvey/internal/format"
	"pkt.systems/expertsurvey/internal/logx"
	"pkt.systems/expertsurvey/internal/version"
	"pkt.systems/expertsurvey/schema"
)

// ErrQuit is returned by /quit and /exit.
var ErrQuit = errors.New("quit")

// Flow is the controller surface the handler drives. *flow.Controller
// satisfies it.
type Flow interface {
	State() flow.State
	Init(ctx context.Context) flow.State
	Refresh(ctx context.Context) flow.State
	SaveUser(ctx context.Context, name, email string) flow.State
	Select(ctx context.Context, row schema.Row) flow.State
	Back() flow.State
	Release(ctx context.Context) flow.State
	Next(ctx context.Context) flow.State
	SetOutcome(o schema.Outcome) flow.State
	SetConfidence(value string) flow.State
	SetSNOT22(score int) flow.State
	Submit(ctx context.Context) flow.State
}

var _ Flow = (*flow.Controller)(nil)

// HandlerConfig configures slash command behavior.
type HandlerConfig struct {
	DisableAuditLogging bool
}

// Handler routes slash commands to flow events and writes the rendered
// result.
type Handler struct {
	flow     Flow
	out      io.Writer
	cfg      HandlerConfig
	renderer *format.PlainRenderer
}

// NewHandler constructs a command handler writing to out.
func NewHandler(f Flow, out io.Writer, cfg HandlerConfig) *Handler {
	return &Handler{flow: f, out: out, cfg: cfg, renderer: format.NewPlainRenderer()}
}

// Handle inspects input and executes slash commands. It reports false for
// input that is not a command.
func (h *Handler) Handle(ctx context.Context, input string) (bool, error) {
	if ctx == nil {
		return false, errors.New("missing context")
	}
	st := h.flow.State()
	log := logx.WithReviewer(ctx, st.Email()).With("input_len", len(input))
	cmd, ok := Parse(input)
	if !ok {
		return false, nil
	}
	if !h.cfg.DisableAuditLogging {
		log.Debug("audit command", "command_type", "slash", "command", strings.TrimSpace(input))
	}
	log = log.With("command", cmd.Name, "args", len(cmd.Args))
	log.Info("command slash request")
	switch cmd.Name {
	case "":
		log.Warn("command slash rejected", "reason", "empty")
		return true, fmt.Errorf("invalid command")
	case "help", "h", "?":
		h.writeLines(helpLines())
		return true, nil
	case "quit", "exit", "q":
		return true, ErrQuit
	case "login":
		return true, h.handleLogin(ctx, cmd)
	case "patients", "list", "ls":
		h.render(h.flow.State(), func(st flow.State) []string { return h.renderer.FormatRoster(st) })
		return true, nil
	case "refresh", "r":
		h.show(h.flow.Refresh(ctx))
		return true, nil
	case "pick", "claim":
		return true, h.handleSelect(ctx, cmd)
	case "next", "n":
		h.show(h.flow.Next(ctx))
		return true, nil
	case "back", "menu":
		h.show(h.flow.Back())
		return true, nil
	case "show":
		h.show(h.flow.State())
		return true, nil
	case "outcome", "o":
		return true, h.handleOutcome(cmd)
	case "confidence", "c":
		return true, h.handleConfidence(cmd)
	case "snot", "snot22", "s":
		return true, h.handleSNOT(cmd)
	case "submit":
		h.show(h.flow.Submit(ctx))
		return true, nil
	case "release":
		h.show(h.flow.Release(ctx))
		return true, nil
	case "progress":
		return true, h.handleProgress(ctx)
	case "version":
		h.writeLines([]string{"expertsurvey " + version.Current()})
		return true, nil
	default:
		log.Warn("command slash rejected", "reason", "unknown")
		return true, fmt.Errorf("unknown command: /%s", cmd.Name)
	}
}

// Start runs the controller's init event and renders the result.
func (h *Handler) Start(ctx context.Context) flow.State {
	st := h.flow.Init(ctx)
	h.show(st)
	return st
}

func (h *Handler) handleLogin(ctx context.Context, cmd Command) error {
	if len(cmd.Args) < 2 {
		return fmt.Errorf("usage: /login <name> <email>")
	}
	email := cmd.Args[len(cmd.Args)-1]
	name := strings.Join(cmd.Args[:len(cmd.Args)-1], " ")
	st := h.flow.SaveUser(ctx, name, email)
	h.show(st)
	if st.User != nil {
		logx.WithReviewer(ctx, st.User.Email).Info("command login completed")
	}
	return nil
}

func (h *Handler) handleSelect(ctx context.Context, cmd Command) error {
	var row schema.Row
	switch len(cmd.Args) {
	case 0:
		row = h.flow.State().Selected
		if !row.Valid() {
			return fmt.Errorf("usage: /%s <row>", cmd.Name)
		}
	case 1:
		n, err := cmd.Int(0)
		if err != nil || !schema.Row(n).Valid() {
			return fmt.Errorf("usage: /%s <row>", cmd.Name)
		}
		row = schema.Row(n)
	default:
		return fmt.Errorf("usage: /%s <row>", cmd.Name)
	}
	h.show(h.flow.Select(ctx, row))
	return nil
}

func (h *Handler) handleOutcome(cmd Command) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("usage: /outcome <0|1>")
	}
	n, err := cmd.Int(0)
	if err != nil {
		return fmt.Errorf("usage: /outcome <0|1>")
	}
	h.showForm(h.flow.SetOutcome(schema.Outcome(n)))
	return nil
}

func (h *Handler) handleConfidence(cmd Command) error {
	value := cmd.Rest(0)
	if value == "" {
		return fmt.Errorf("usage: /confidence <1-%d|label>", len(schema.ConfidenceLevels))
	}
	if n, err := strconv.Atoi(value); err == nil {
		if n < 1 || n > len(schema.ConfidenceLevels) {
			return fmt.Errorf("usage: /confidence <1-%d|label>", len(schema.ConfidenceLevels))
		}
		value = string(schema.ConfidenceLevels[n-1])
	}
	h.showForm(h.flow.SetConfidence(value))
	return nil
}

func (h *Handler) handleSNOT(cmd Command) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("usage: /snot <%d-%d>", schema.MinSNOT22, schema.MaxSNOT22)
	}
	n, err := cmd.Int(0)
	if err != nil {
		return fmt.Errorf("usage: /snot <%d-%d>", schema.MinSNOT22, schema.MaxSNOT22)
	}
	h.showForm(h.flow.SetSNOT22(n))
	return nil
}

func (h *Handler) handleProgress(ctx context.Context) error {
	st := h.flow.Refresh(ctx)
	if st.Progress == nil {
		if st.User == nil {
			return errors.New(flow.MsgSignIn)
		}
		return errors.New("progress unavailable")
	}
	h.writeLines(h.renderer.FormatProgress(*st.Progress))
	return nil
}

func (h *Handler) show(st flow.State) {
	h.writeLines(h.renderer.FormatState(st))
}

func (h *Handler) showForm(st flow.State) {
	h.render(st, func(st flow.State) []string { return h.renderer.FormatForm(st.Form) })
}

func (h *Handler) render(st flow.State, body func(flow.State) []string) {
	lines := []string{}
	if st.Error != "" {
		lines = append(lines, "error: "+st.Error)
	}
	h.writeLines(append(lines, body(st)...))
}

func (h *Handler) writeLines(lines []string) {
	if h.out == nil {
		return
	}
	for _, line := range lines {
		_, _ = io.WriteString(h.out, line+"\n")
	}
}

func helpLines() []string {
	levels := make([]string, 0, len(schema.ConfidenceLevels))
	for i, c := range schema.ConfidenceLevels {
		levels = append(levels, fmt.Sprintf("%d=%s", i+1, c))
	}
	return []string{
		"Commands",
		"  /login <name> <email>   sign in and open the next patient",
		"  /patients               list the roster",
		"  /refresh                reload roster and progress",
		"  /pick <row>             claim and open a row (or edit your own submission)",
		"  /claim [row]            claim the selected or given row",
		"  /next                   open the next workable row",
		"  /back                   return to the menu",
		"  /show                   show the current view",
		"  /outcome <0|1>          set the predicted outcome",
		"  /confidence <n|label>   set confidence (" + strings.Join(levels, ", ") + ")",
		fmt.Sprintf("  /snot <n>               set the SNOT-22 estimate (%d-%d)", schema.MinSNOT22, schema.MaxSNOT22),
		"  /submit                 submit or update the prediction",
		"  /release                release the current claim",
		"  /progress               show your progress",
		"  /version                show version information",
		"  /quit                   leave the survey",
	}
}
