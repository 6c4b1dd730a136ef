package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/r3d91ll/palinor/pkg/api"
	"github.com/r3d91ll/palinor/pkg/config"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/manager"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/registry"
	"github.com/r3d91ll/palinor/pkg/shell"
	"github.com/r3d91ll/palinor/pkg/spinner"
	"github.com/r3d91ll/palinor/pkg/vector"
)

// open loads the config and opens a manager on it.
func (a *app) open() (*manager.Manager, error) {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return nil, err
	}
	return manager.Open(cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func cmdVersion(a *app, args []string) error {
	fmt.Fprintf(a.stdout, "Palinor %s\n", version)
	return nil
}

func cmdInit(a *app, args []string) error {
	fs := newFlagSet(a, "init")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	if *force {
		if err := config.Default().Save(a.configPath); err != nil {
			return err
		}
	} else if err := config.InitConfig(a.configPath); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Config initialized at: %s\n", a.configPath)
	fmt.Fprintln(a.stdout, "Edit this file to choose the model, training layers and storage location.")
	return nil
}

func cmdDataset(a *app, args []string) error {
	fs := newFlagSet(a, "dataset")
	scaffoldsPath := fs.String("scaffolds", "", "File with one scaffold per line containing {trait}")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := wantArgs(pos, 3); err != nil {
		return err
	}

	var scaffolds []string
	if *scaffoldsPath != "" {
		if scaffolds, err = readLines(*scaffoldsPath); err != nil {
			return err
		}
	}

	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	path, pairs, err := mgr.CreateDataset(pos[0], pos[1], pos[2], scaffolds)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Wrote %d pairs to %s\n", len(pairs), path)
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to open scaffolds file").
			WithContext("path", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to read scaffolds file").
			WithContext("path", path)
	}
	return lines, nil
}

func cmdDatasets(a *app, args []string) error {
	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	names, err := mgr.Datasets()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(a.stdout, n)
	}
	return nil
}

func cmdTrain(a *app, args []string) error {
	fs := newFlagSet(a, "train")
	ds := fs.String("dataset", "", "Dataset name or JSONL path")
	positive := fs.String("positive", "", "Label of the positive trait")
	negative := fs.String("negative", "", "Label of the negative trait")
	layers := fs.String("layers", "", "Comma-separated layer ids, negative from the end (overrides config)")
	batch := fs.Int("batch", 0, "Maximum capture batch size (overrides config)")
	reduction := fs.String("reduction", "", "Token reduction: last or mean (overrides config)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := wantArgs(pos, 1); err != nil {
		return err
	}
	if *ds == "" {
		return perrors.Command(perrors.ErrCommandMissingArgs, "--dataset is required")
	}

	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return err
	}
	if *layers != "" {
		ids, err := parseLayers(*layers)
		if err != nil {
			return err
		}
		cfg.Training.LayerIDs = ids
	}
	if *batch != 0 {
		cfg.Training.MaxBatchSize = *batch
	}
	if *reduction != "" {
		cfg.Training.Reduction = *reduction
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	mgr, err := manager.Open(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	pairs, err := mgr.LoadDataset(*ds)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var entry registry.Entry
	msg := fmt.Sprintf("Training %s on %d pairs", pos[0], len(pairs))
	err = spinner.Track(msg, spinner.Options{Writer: a.stderr}, func(func(string)) error {
		var err error
		_, entry, err = mgr.Train(ctx, manager.TrainRequest{
			Name:    pos[0],
			Dataset: pairs,
			Traits:  vector.Traits{Positive: *positive, Negative: *negative},
		})
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Trained %s for %s\n", entry.Name, entry.Model)
	fmt.Fprintf(a.stdout, "  layers: %v\n", entry.LayerIDs)
	fmt.Fprintf(a.stdout, "  file:   %s\n", entry.Path)
	return nil
}

func parseLayers(s string) ([]model.LayerID, error) {
	var ids []model.LayerID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, perrors.Commandf(perrors.ErrCommandInvalidArg, "layer id %q is not an integer", part)
		}
		ids = append(ids, n)
	}
	if len(ids) == 0 {
		return nil, perrors.Command(perrors.ErrCommandInvalidArg, "--layers must list at least one layer id")
	}
	return ids, nil
}

func cmdComplete(a *app, args []string) error {
	fs := newFlagSet(a, "complete")
	vec := fs.String("vector", "", "Control vector to apply")
	strength := fs.Float64("strength", manager.DefaultStrength, "Steering coefficient; the sign selects the trait")
	maxTokens := fs.Int("max-tokens", 0, "Tokens to generate (overrides config)")
	temperature := fs.Float64("temperature", -1, "Sampling temperature, 0 for greedy (overrides config)")
	seed := fs.Int64("seed", 0, "Sampling seed (overrides config)")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return perrors.Command(perrors.ErrCommandMissingArgs, "a prompt is required")
	}
	prompt := strings.Join(pos, " ")

	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	opts := mgr.Config().Generation.Options()
	if *maxTokens > 0 {
		opts.MaxNewTokens = *maxTokens
	}
	if *temperature >= 0 {
		opts.Temperature = *temperature
	}
	if *seed != 0 {
		opts.Seed = *seed
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Fprint(a.stdout, prompt)
	_, err = mgr.Generate(ctx, manager.GenerateRequest{
		Prompt:   prompt,
		Vector:   *vec,
		Strength: *strength,
		Options:  &opts,
		OnToken: func(_, _ int, text string) bool {
			fmt.Fprint(a.stdout, text)
			return true
		},
	})
	fmt.Fprintln(a.stdout)
	return err
}

func cmdVectors(a *app, args []string) error {
	fs := newFlagSet(a, "vectors")
	asJSON := fs.Bool("json", false, "Print catalog entries as JSON")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	entries, err := mgr.List(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintf(a.stdout, "No vectors trained for %s.\n", mgr.ModelName())
		return nil
	}
	for _, e := range entries {
		traits := ""
		if e.Positive != "" || e.Negative != "" {
			traits = fmt.Sprintf("  %s vs %s", e.Positive, e.Negative)
		}
		fmt.Fprintf(a.stdout, "%-20s layers %v  %d pairs  %s%s\n",
			e.Name, e.LayerIDs, e.Pairs, e.CreatedAt.Local().Format("2006-01-02 15:04"), traits)
	}
	return nil
}

func cmdDelete(a *app, args []string) error {
	pos, err := parseArgs(newFlagSet(a, "delete"), args)
	if err != nil {
		return err
	}
	if err := wantArgs(pos, 1); err != nil {
		return err
	}

	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Delete(context.Background(), pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Deleted %s\n", pos[0])
	return nil
}

func cmdShell(a *app, args []string) error {
	fs := newFlagSet(a, "shell")
	vec := fs.String("vector", "", "Control vector to start with")
	strength := fs.Float64("strength", shell.DefaultStrength, "Initial steering coefficient")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	home, _ := os.UserHomeDir()
	sh, err := shell.New(mgr, shell.Config{
		HistoryFile: filepath.Join(home, ".palinor_history"),
		Vector:      *vec,
		Strength:    strength,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	if err := sh.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	fmt.Fprintln(a.stdout, "Goodbye!")
	return nil
}

func cmdServe(a *app, args []string) error {
	fs := newFlagSet(a, "serve")
	host := fs.String("host", "", "Interface to bind (overrides config)")
	port := fs.Int("port", 0, "Port to listen on (overrides config)")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	mgr, err := a.open()
	if err != nil {
		return err
	}
	defer mgr.Close()

	cfg := mgr.Config().Server
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if cfg.Logging {
		log.SetOutput(a.stderr)
	}

	srv := api.NewServer(cfg, mgr, version)
	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintf(a.stdout, "Serving %s on http://%s\n", mgr.ModelName(), srv.Address())
	return srv.Run(ctx)
}
