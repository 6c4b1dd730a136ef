// Package shell provides the interactive REPL for palinor.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/help"
	"github.com/r3d91ll/palinor/pkg/manager"
	"github.com/r3d91ll/palinor/pkg/spinner"
	"github.com/r3d91ll/palinor/pkg/vector"
)

// DefaultStrength is the coefficient /use applies when none is given.
const DefaultStrength = manager.DefaultStrength

// Shell is the interactive command-line interface.
type Shell struct {
	mgr  *manager.Manager
	rl   *readline.Instance
	out  io.Writer
	errf *perrors.Formatter
	help *help.Renderer

	vector   string // active vector, empty when unsteered
	strength float64

	spin spinner.Options
}

// Config holds shell configuration.
type Config struct {
	HistoryFile string

	// Vector and Strength preselect steering for plain-text lines. A nil
	// Strength keeps DefaultStrength.
	Vector   string
	Strength *float64
}

// New creates a new interactive shell.
func New(mgr *manager.Manager, cfg Config) (*Shell, error) {
	s := newShell(mgr, os.Stdout)
	s.errf = perrors.DefaultFormatter()
	s.help = help.NewRenderer(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
	s.preselect(cfg)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    NewCompleter(s.vectorNames, s.datasetNames),
	})
	if err != nil {
		return nil, perrors.InternalWrap(err, perrors.ErrInternal, "failed to start line editor")
	}
	s.rl = rl
	return s, nil
}

func newShell(mgr *manager.Manager, out io.Writer) *Shell {
	return &Shell{
		mgr:      mgr,
		out:      out,
		errf:     &perrors.Formatter{Writer: out, Indent: "  "},
		help:     help.NewRenderer(out, false),
		strength: DefaultStrength,
		spin:     spinner.Options{Writer: out},
	}
}

func (s *Shell) preselect(cfg Config) {
	s.vector = cfg.Vector
	if cfg.Strength != nil {
		s.strength = *cfg.Strength
	}
}

func (s *Shell) prompt() string {
	if s.vector == "" {
		return "\033[32mpalinor>\033[0m "
	}
	return fmt.Sprintf("\033[32mpalinor\033[0m[\033[33m%s %+.2f\033[0m]> ", s.vector, s.strength)
}

// Run starts the interactive loop.
func (s *Shell) Run(ctx context.Context) error {
	defer s.rl.Close()

	fmt.Fprintf(s.out, "Model: %s. Type text to complete it.\n", s.mgr.ModelName())
	fmt.Fprintln(s.out, "Commands: /train, /vectors, /use, /strength, /reset, /datasets, /dataset, /help, /quit")
	fmt.Fprintln(s.out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.rl.SetPrompt(s.prompt())
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		if err := s.handleLine(ctx, line); err != nil {
			if err == errQuit {
				return nil
			}
			s.errf.Display(err)
		}
	}
}

var errQuit = fmt.Errorf("quit")

func (s *Shell) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return s.handleCommand(ctx, line)
	}
	return s.handleMessage(ctx, line)
}

func (s *Shell) handleCommand(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return errQuit

	case "/help", "/h":
		if len(args) > 0 {
			s.help.RenderCommand(args[0])
			return nil
		}
		s.help.RenderFull()

	case "/vectors":
		return s.printVectors(ctx)

	case "/datasets":
		return s.printDatasets()

	case "/train":
		return s.handleTrain(ctx, args)

	case "/dataset":
		return s.handleDataset(args)

	case "/use":
		return s.handleUse(ctx, args)

	case "/strength":
		return s.handleStrength(args)

	case "/reset":
		s.vector = ""
		fmt.Fprintln(s.out, "Steering off.")

	case "/delete":
		return s.handleDelete(ctx, args)

	default:
		return perrors.Commandf(perrors.ErrCommandNotFound, "unknown command: %s", cmd).
			WithContext("command", cmd)
	}
	return nil
}

// handleMessage completes line with the active steering, streaming tokens as
// they are produced.
func (s *Shell) handleMessage(ctx context.Context, line string) error {
	fmt.Fprint(s.out, "\033[36m"+line+"\033[0m")
	_, err := s.mgr.Generate(ctx, manager.GenerateRequest{
		Prompt:   line,
		Vector:   s.vector,
		Strength: s.strength,
		OnToken: func(_, _ int, text string) bool {
			fmt.Fprint(s.out, text)
			return true
		},
	})
	fmt.Fprintln(s.out)
	return err
}

// handleTrain handles /train <name> <dataset> [positive negative].
func (s *Shell) handleTrain(ctx context.Context, args []string) error {
	if len(args) != 2 && len(args) != 4 {
		return perrors.Command(perrors.ErrCommandMissingArgs, "usage: /train <name> <dataset> [positive negative]")
	}
	pairs, err := s.mgr.LoadDataset(args[1])
	if err != nil {
		return err
	}
	req := manager.TrainRequest{Name: args[0], Dataset: pairs}
	if len(args) == 4 {
		req.Traits = vector.Traits{Positive: args[2], Negative: args[3]}
	}

	var v *vector.ControlVector
	err = spinner.Track(fmt.Sprintf("Training %s on %d pairs", args[0], len(pairs)), s.spin, func(func(string)) error {
		var err error
		v, _, err = s.mgr.Train(ctx, req)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Trained %s: layers %v, hidden %d. Use it with /use %s\n",
		v.Name(), v.LayerIDs(), v.HiddenDim(), v.Name())
	return nil
}

// handleDataset handles /dataset <name> <positive> <negative>.
func (s *Shell) handleDataset(args []string) error {
	if len(args) != 3 {
		return perrors.Command(perrors.ErrCommandMissingArgs, "usage: /dataset <name> <positive> <negative>")
	}
	path, pairs, err := s.mgr.CreateDataset(args[0], args[1], args[2], nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Wrote %d pairs to %s\n", len(pairs), path)
	return nil
}

// handleUse handles /use <name> [strength].
func (s *Shell) handleUse(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return perrors.Command(perrors.ErrCommandMissingArgs, "usage: /use <vector> [strength]")
	}
	if len(args) == 2 {
		if err := s.handleStrength(args[1:]); err != nil {
			return err
		}
	}
	if _, err := s.mgr.Vector(ctx, args[0]); err != nil {
		return err
	}
	s.vector = args[0]
	fmt.Fprintf(s.out, "Steering with %s at %+.2f\n", s.vector, s.strength)
	return nil
}

// handleStrength handles /strength <coefficient>.
func (s *Shell) handleStrength(args []string) error {
	if len(args) != 1 {
		fmt.Fprintf(s.out, "Strength: %+.2f\n", s.strength)
		return nil
	}
	f, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return perrors.Commandf(perrors.ErrCommandInvalidArg, "strength %q is not a number", args[0])
	}
	s.strength = f
	return nil
}

func (s *Shell) handleDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return perrors.Command(perrors.ErrCommandMissingArgs, "usage: /delete <vector>")
	}
	if err := s.mgr.Delete(ctx, args[0]); err != nil {
		return err
	}
	if s.vector == args[0] {
		s.vector = ""
	}
	fmt.Fprintf(s.out, "Deleted %s\n", args[0])
	return nil
}

func (s *Shell) printVectors(ctx context.Context) error {
	entries, err := s.mgr.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "No vectors yet. Train one with /train.")
		return nil
	}
	fmt.Fprintf(s.out, "Vectors for %s:\n", s.mgr.ModelName())
	for _, e := range entries {
		mark := " "
		if e.Name == s.vector {
			mark = "*"
		}
		traits := ""
		if e.Positive != "" || e.Negative != "" {
			traits = fmt.Sprintf(" (%s vs %s)", e.Positive, e.Negative)
		}
		fmt.Fprintf(s.out, " %s %-20s layers %v, %d pairs%s\n", mark, e.Name, e.LayerIDs, e.Pairs, traits)
	}
	return nil
}

func (s *Shell) printDatasets() error {
	names, err := s.mgr.Datasets()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(s.out, "No datasets yet. Create one with /dataset.")
		return nil
	}
	for _, n := range names {
		fmt.Fprintf(s.out, "  %s\n", n)
	}
	return nil
}

func (s *Shell) vectorNames() []string {
	entries, err := s.mgr.List(context.Background())
	if err != nil {
		return nil
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

func (s *Shell) datasetNames() []string {
	names, _ := s.mgr.Datasets()
	return names
}
