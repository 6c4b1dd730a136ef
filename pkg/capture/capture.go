// Package capture records per-block activations during forward passes without
// modifying them.
package capture

import (
	"context"
	"log"
	"strconv"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/hooks"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Defaults for batching and out-of-memory backoff.
const (
	DefaultMaxBatchSize = 4
	DefaultMaxRetries   = 3
)

// Capturer runs capture passes against one host.
type Capturer struct {
	host     model.Host
	layerIDs []model.LayerID

	// MaxBatchSize bounds the number of sequences per forward pass.
	MaxBatchSize int

	// MaxRetries is how many times the batch size may be halved after an
	// out-of-memory error before the error is surfaced.
	MaxRetries int
}

// New creates a Capturer recording the given layers. The ids are resolved now
// so that bad ids fail before any forward pass runs.
func New(host model.Host, layerIDs []model.LayerID) (*Capturer, error) {
	if _, err := model.ResolveLayers(layerIDs, host.NumLayers()); err != nil {
		return nil, err
	}
	return &Capturer{
		host:         host,
		layerIDs:     append([]model.LayerID(nil), layerIDs...),
		MaxBatchSize: DefaultMaxBatchSize,
		MaxRetries:   DefaultMaxRetries,
	}, nil
}

// Capture runs one forward pass over batch and returns a copy of every recorded
// layer's activation, keyed by the layer id as given to New. Hooks are detached
// before Capture returns, on success or failure.
func (c *Capturer) Capture(ctx context.Context, batch [][]int) (map[model.LayerID]*model.Tensor, error) {
	recorded := make(map[model.LayerID]*model.Tensor, len(c.layerIDs))
	reg := hooks.NewRegistry(c.host)

	err := reg.With(c.layerIDs, func(id model.LayerID, act *model.Tensor) *model.Tensor {
		recorded[id] = act.Clone()
		return nil
	}, func() error {
		return c.host.Forward(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	for _, id := range c.layerIDs {
		if recorded[id] == nil {
			return nil, perrors.Statef(perrors.ErrHooksInconsistent,
				"forward pass did not reach layer %d", id)
		}
	}
	return recorded, nil
}

// CaptureAll captures seqs in chunks of at most MaxBatchSize sequences and
// returns, per layer, one tensor per chunk in input order.
//
// When a chunk runs out of device memory the batch size is halved and the same
// chunk retried, at most MaxRetries times per call. The reduced size is kept
// for the remaining chunks. If the batch size is already 1 or the retries are
// used up, the out-of-memory error is returned.
func (c *Capturer) CaptureAll(ctx context.Context, seqs [][]int) (map[model.LayerID][]*model.Tensor, error) {
	size := c.MaxBatchSize
	if size <= 0 {
		return nil, perrors.Validationf(perrors.ErrValidationInvalidValue,
			"max batch size must be positive, got %d", size)
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}

	out := make(map[model.LayerID][]*model.Tensor, len(c.layerIDs))
	halvings := 0

	for start := 0; start < len(seqs); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + size
		if end > len(seqs) {
			end = len(seqs)
		}

		acts, err := c.Capture(ctx, seqs[start:end])
		if err != nil {
			if !model.IsOutOfMemory(err) {
				return nil, err
			}
			if size == 1 || halvings >= retries {
				return nil, perrors.DeviceWrap(err, perrors.ErrDeviceOutOfMemory,
					"capture ran out of device memory after batch-size backoff").
					WithContext("batch_size", strconv.Itoa(size)).
					WithContext("retries", strconv.Itoa(halvings))
			}
			halvings++
			size /= 2
			log.Printf("[capture] out of memory at batch %d, retrying with batch size %d (%d/%d)",
				end-start, size, halvings, retries)
			continue
		}

		for id, t := range acts {
			out[id] = append(out[id], t)
		}
		start = end
	}
	return out, nil
}

// LayerIDs returns the layer ids this Capturer records.
func (c *Capturer) LayerIDs() []model.LayerID {
	return append([]model.LayerID(nil), c.layerIDs...)
}
