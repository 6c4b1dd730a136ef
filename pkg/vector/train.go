package vector

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/r3d91ll/palinor/pkg/capture"
	"github.com/r3d91ll/palinor/pkg/dataset"
	"github.com/r3d91ll/palinor/pkg/direction"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Options controls training.
type Options struct {
	// LayerIDs to train; empty means the final block only.
	LayerIDs []model.LayerID

	// MaxBatchSize bounds sequences per forward pass.
	MaxBatchSize int

	// MaxRetries bounds batch-size halvings after out-of-memory errors.
	MaxRetries int

	Reduction     direction.Reduction
	Normalization direction.Normalization

	// Name, Model and Traits are recorded in the vector's metadata. An empty
	// Model takes the host's name.
	Name   string
	Model  string
	Traits Traits
}

// DefaultOptions returns the training defaults.
func DefaultOptions() Options {
	return Options{
		LayerIDs:      []model.LayerID{-1},
		MaxBatchSize:  capture.DefaultMaxBatchSize,
		MaxRetries:    capture.DefaultMaxRetries,
		Reduction:     direction.ReduceLast,
		Normalization: direction.NormActivation,
	}
}

// Train captures activations for both sides of every pair in ds and reduces them
// into one direction per layer. Sequences longer than the host's context window
// are cut from the left so the final token survives. An empty dataset is a
// DATASET_EMPTY config error; running out of memory at the smallest batch is a
// device error.
func Train(ctx context.Context, host model.Host, tok model.Tokenizer, ds dataset.Dataset, opts Options) (*ControlVector, error) {
	if len(opts.LayerIDs) == 0 {
		opts.LayerIDs = []model.LayerID{-1}
	}
	if opts.MaxBatchSize == 0 {
		opts.MaxBatchSize = capture.DefaultMaxBatchSize
	}
	reduction, err := direction.ParseReduction(string(opts.Reduction))
	if err != nil {
		return nil, err
	}
	normalization, err := direction.ParseNormalization(string(opts.Normalization))
	if err != nil {
		return nil, err
	}

	capt, err := capture.New(host, opts.LayerIDs)
	if err != nil {
		return nil, err
	}
	capt.MaxBatchSize = opts.MaxBatchSize
	capt.MaxRetries = opts.MaxRetries

	limit := model.MaxSeqLen(host)
	truncated := 0

	var pos, neg [][]int
	it := ds.Pairs()
	for it.Next() {
		pair := it.Pair()
		p, n := tok.Encode(pair.Positive), tok.Encode(pair.Negative)
		if len(p) == 0 || len(n) == 0 {
			return nil, perrors.Validation(perrors.ErrDatasetInvalid, "prompt pair tokenized to an empty sequence").
				WithContext("pair", strconv.Itoa(len(pos)+1))
		}
		var cutP, cutN bool
		p, cutP = model.TruncateLeft(p, limit)
		n, cutN = model.TruncateLeft(n, limit)
		if cutP || cutN {
			truncated++
		}
		pos = append(pos, p)
		neg = append(neg, n)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if len(pos) == 0 {
		return nil, perrors.Config(perrors.ErrDatasetEmpty, "cannot train a control vector on an empty dataset")
	}

	if truncated > 0 {
		log.Printf("[train] %d pairs exceed %d tokens, kept their last %d", truncated, limit, limit)
	}

	start := time.Now()
	log.Printf("[train] capturing %d pairs at layers %v (batch %d)", len(pos), opts.LayerIDs, opts.MaxBatchSize)

	posActs, err := capt.CaptureAll(ctx, pos)
	if err != nil {
		return nil, err
	}
	negActs, err := capt.CaptureAll(ctx, neg)
	if err != nil {
		return nil, err
	}

	est := &direction.Estimator{Reduction: reduction, Normalization: normalization}
	dirs, err := est.EstimateAll(posActs, negActs)
	if err != nil {
		return nil, err
	}

	if opts.Model == "" {
		opts.Model = host.Name()
	}
	v, err := FromDirections(dirs, Metadata{
		Name:          opts.Name,
		Model:         opts.Model,
		Traits:        opts.Traits,
		Pairs:         len(pos),
		Reduction:     reduction,
		Normalization: normalization,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[train] trained %q over %d layers in %s", v.Name(), len(dirs), time.Since(start).Round(time.Millisecond))
	return v, nil
}
