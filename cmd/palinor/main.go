// Palinor - activation steering for causal language models.
//
// Palinor trains control vectors from contrastive prompt pairs and adds them
// to a model's residual stream at generation time.
//
// Commands:
//   - init:     write a default config file
//   - dataset:  build contrastive pairs from scaffold lines
//   - train:    train a control vector and record it in the catalog
//   - complete: steered completion of a prompt
//   - vectors:  list trained vectors
//   - shell:    interactive REPL
//   - serve:    HTTP/WebSocket API
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/r3d91ll/palinor/pkg/config"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"golang.org/x/term"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries what every command needs.
type app struct {
	configPath string
	verbose    bool
	stdout     io.Writer
	stderr     io.Writer
}

type command struct {
	usage string
	help  string
	run   func(a *app, args []string) error
}

var commands = map[string]command{
	"init":     {"init [--force]", "Write a default config file", cmdInit},
	"dataset":  {"dataset <name> <positive> <negative> [--scaffolds file]", "Build contrastive pairs and save them", cmdDataset},
	"datasets": {"datasets", "List saved datasets", cmdDatasets},
	"train":    {"train <name> --dataset <name|path> [--positive p --negative n]", "Train a control vector", cmdTrain},
	"complete": {"complete <prompt> [--vector name] [--strength f]", "Complete a prompt, optionally steered", cmdComplete},
	"vectors":  {"vectors [--json]", "List trained vectors for the configured model", cmdVectors},
	"delete":   {"delete <name>", "Delete a trained vector", cmdDelete},
	"shell":    {"shell [--vector name] [--strength f]", "Start the interactive shell", cmdShell},
	"serve":    {"serve [--host h] [--port n]", "Serve the HTTP API", cmdServe},
	"version":  {"version", "Print the version", cmdVersion},
}

// run executes one CLI invocation and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("palinor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&a.configPath, "config", "", "Config file path (default: ./palinor.yaml or ~/.palinor/palinor.yaml)")
	fs.BoolVar(&a.verbose, "verbose", false, "Show component logs")
	fs.Usage = func() { a.usage() }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		a.usage()
		return 2
	}
	if a.configPath == "" {
		a.configPath = config.DefaultConfigPath()
	}
	if !a.verbose {
		log.SetOutput(io.Discard)
		defer log.SetOutput(os.Stderr)
	}

	name := rest[0]
	cmd, ok := commands[name]
	if !ok {
		a.fail(perrors.Commandf(perrors.ErrCommandNotFound, "unknown command %q", name).
			WithContext("command", name))
		a.usage()
		return 2
	}
	if err := cmd.run(a, rest[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		a.fail(err)
		if perrors.IsCategory(err, perrors.CategoryCommand) {
			fmt.Fprintf(a.stderr, "\nUsage: palinor %s\n", cmd.usage)
			return 2
		}
		return 1
	}
	return 0
}

func (a *app) fail(err error) {
	f := &perrors.Formatter{Writer: a.stderr, Indent: "  "}
	if file, ok := a.stderr.(*os.File); ok {
		f.UseColor = term.IsTerminal(int(file.Fd()))
	}
	f.Display(err)
}

func (a *app) usage() {
	fmt.Fprintf(a.stderr, "Palinor %s - control vectors for activation steering\n\n", version)
	fmt.Fprintln(a.stderr, "Usage: palinor [--config path] [--verbose] <command> [args]")
	fmt.Fprintln(a.stderr)
	fmt.Fprintln(a.stderr, "Commands:")

	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(a.stderr, "  %-10s %s\n", n, commands[n].help)
	}
}

// parseArgs parses flags that may appear between positional arguments and
// returns the positionals in order.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func wantArgs(got []string, n int) error {
	if len(got) != n {
		return perrors.Commandf(perrors.ErrCommandMissingArgs, "expected %d argument(s), got %d", n, len(got))
	}
	return nil
}
