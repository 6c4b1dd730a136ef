// Package model defines the capability interface the steering engine needs from a
// causal language model: block enumeration, per-block activation hooks, batched
// forward passes and autoregressive generation.
//
// Hosts are injected, never monkey-patched. Anything that implements Host can be
// captured from and steered, including the in-process reference transformer in
// package reference.
package model

import (
	"context"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
)

// Hook intercepts the output of one block. It receives the block's activation
// tensor and returns a replacement, or nil to keep the original.
// Hooks must not retain act after returning; hosts may reuse its buffer.
type Hook func(layer int, act *Tensor) *Tensor

// GenerateOptions controls autoregressive decoding.
type GenerateOptions struct {
	// MaxNewTokens bounds the number of generated tokens.
	MaxNewTokens int `json:"max_new_tokens" yaml:"max_new_tokens"`

	// Temperature 0 selects greedy decoding.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Seed makes sampled decoding reproducible.
	Seed int64 `json:"seed" yaml:"seed"`

	// OnToken, if set, is called after every decoding step with the new token.
	// Returning false stops generation early.
	OnToken func(step, token int) bool `json:"-" yaml:"-"`
}

// Host is a causal language model that exposes its blocks to interceptors.
type Host interface {
	// Name identifies the model, e.g. for vector catalogs.
	Name() string

	// NumLayers returns the number of transformer blocks.
	NumLayers() int

	// HiddenDim returns the width of the residual stream.
	HiddenDim() int

	// AddHook registers h on the concrete block index layer. Hooks on one layer
	// run in registration order. The returned func removes exactly this hook and
	// is safe to call more than once.
	AddHook(layer int, h Hook) (remove func(), err error)

	// Forward runs one forward pass over a batch of token sequences. Hooks fire
	// once per block. Exceeding device memory yields a DEVICE_OUT_OF_MEMORY error.
	Forward(ctx context.Context, batch [][]int) error

	// Generate decodes up to opts.MaxNewTokens tokens after prompt and returns the
	// new tokens only. Hooks fire on every decoding step.
	Generate(ctx context.Context, prompt []int, opts GenerateOptions) ([]int, error)
}

// ContextLimiter is implemented by hosts whose forward pass accepts a bounded
// number of positions per sequence.
type ContextLimiter interface {
	MaxSeqLen() int
}

// MaxSeqLen returns h's context window, or 0 when h does not declare one.
func MaxSeqLen(h Host) int {
	if cl, ok := h.(ContextLimiter); ok {
		return cl.MaxSeqLen()
	}
	return 0
}

// TruncateLeft keeps the last limit tokens of seq. A limit of 0 or less leaves
// seq unchanged.
func TruncateLeft(seq []int, limit int) ([]int, bool) {
	if limit <= 0 || len(seq) <= limit {
		return seq, false
	}
	return seq[len(seq)-limit:], true
}

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// IsOutOfMemory reports whether err is a device out-of-memory error.
func IsOutOfMemory(err error) bool {
	return perrors.IsCode(err, perrors.ErrDeviceOutOfMemory)
}
