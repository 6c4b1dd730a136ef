// Package reference implements a small in-process causal transformer that satisfies
// model.Host. It exists so the steering engine can be trained, steered and tested
// without a model hub: weights are drawn from a seeded generator, so the same
// Config always yields the same model.
package reference

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Config holds the reference model's hyperparameters.
type Config struct {
	Name      string `yaml:"name" json:"name"`
	VocabSize int    `yaml:"-" json:"vocab_size"`
	HiddenDim int    `yaml:"hidden_dim" json:"hidden_dim"`
	Layers    int    `yaml:"layers" json:"layers"`
	Heads     int    `yaml:"heads" json:"heads"`
	FFHidden  int    `yaml:"ff_hidden" json:"ff_hidden"`
	MaxSeq    int    `yaml:"max_seq" json:"max_seq"`
	Seed      int64  `yaml:"seed" json:"seed"`

	// MemoryBudget caps batch*seq*hidden floats per forward pass; 0 means unlimited.
	// Passes over the cap fail with DEVICE_OUT_OF_MEMORY.
	MemoryBudget int `yaml:"memory_budget" json:"memory_budget"`
}

// DefaultConfig returns a small model that runs comfortably in tests.
func DefaultConfig() Config {
	return Config{
		Name:      "palinor-reference-4l",
		VocabSize: VocabSize,
		HiddenDim: 32,
		Layers:    4,
		Heads:     4,
		FFHidden:  64,
		MaxSeq:    256,
		Seed:      7,
	}
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return perrors.Configf(perrors.ErrConfigInvalid, "model vocab size must be positive, got %d", c.VocabSize)
	case c.HiddenDim <= 0:
		return perrors.Configf(perrors.ErrConfigInvalid, "model hidden_dim must be positive, got %d", c.HiddenDim)
	case c.Layers <= 0:
		return perrors.Configf(perrors.ErrConfigInvalid, "model layers must be positive, got %d", c.Layers)
	case c.Heads <= 0 || c.HiddenDim%c.Heads != 0:
		return perrors.Configf(perrors.ErrConfigInvalid, "model heads (%d) must divide hidden_dim (%d)", c.Heads, c.HiddenDim)
	case c.FFHidden <= 0:
		return perrors.Configf(perrors.ErrConfigInvalid, "model ff_hidden must be positive, got %d", c.FFHidden)
	case c.MaxSeq <= 1:
		return perrors.Configf(perrors.ErrConfigInvalid, "model max_seq must be greater than 1, got %d", c.MaxSeq)
	case c.MemoryBudget < 0:
		return perrors.Configf(perrors.ErrConfigInvalid, "model memory_budget must not be negative, got %d", c.MemoryBudget)
	}
	return nil
}

type layerNorm struct {
	gamma, beta []float32
}

type linear struct {
	in, out int
	w       []float32 // row-major (in, out)
	b       []float32
}

type block struct {
	ln1            layerNorm
	wq, wk, wv, wo linear
	ln2            layerNorm
	up, down       linear
}

type hookEntry struct {
	id   uint64
	hook model.Hook
}

// Model is the reference causal transformer.
type Model struct {
	cfg Config

	tokEmbed []float32 // (vocab, hidden)
	posEmbed []float32 // (maxSeq, hidden)
	blocks   []block
	lnFinal  layerNorm
	lmHead   linear

	mu     sync.Mutex
	hooks  map[int][]hookEntry
	nextID uint64
}

var _ model.Host = (*Model)(nil)

// New builds a model with weights drawn from cfg.Seed.
func New(cfg Config) (*Model, error) {
	if cfg.VocabSize == 0 {
		cfg.VocabSize = VocabSize
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("palinor-reference-%dl", cfg.Layers)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	h := cfg.HiddenDim

	m := &Model{
		cfg:      cfg,
		tokEmbed: randn(rng, cfg.VocabSize*h, 1.0),
		posEmbed: randn(rng, cfg.MaxSeq*h, 0.1),
		blocks:   make([]block, cfg.Layers),
		lnFinal:  newLayerNorm(h),
		lmHead:   newLinear(rng, h, cfg.VocabSize),
		hooks:    make(map[int][]hookEntry),
	}
	for i := range m.blocks {
		m.blocks[i] = block{
			ln1:  newLayerNorm(h),
			wq:   newLinear(rng, h, h),
			wk:   newLinear(rng, h, h),
			wv:   newLinear(rng, h, h),
			wo:   newLinear(rng, h, h),
			ln2:  newLayerNorm(h),
			up:   newLinear(rng, h, cfg.FFHidden),
			down: newLinear(rng, cfg.FFHidden, h),
		}
	}
	return m, nil
}

// Config returns the model's hyperparameters.
func (m *Model) Config() Config { return m.cfg }

func (m *Model) Name() string   { return m.cfg.Name }
func (m *Model) NumLayers() int { return m.cfg.Layers }
func (m *Model) HiddenDim() int { return m.cfg.HiddenDim }
func (m *Model) MaxSeqLen() int { return m.cfg.MaxSeq }

// AddHook registers h on block layer.
func (m *Model) AddHook(layer int, h model.Hook) (func(), error) {
	if layer < 0 || layer >= m.cfg.Layers {
		return nil, perrors.Configf(perrors.ErrLayerInvalid, "block index %d outside [0, %d)", layer, m.cfg.Layers)
	}
	if h == nil {
		return nil, perrors.Validation(perrors.ErrValidationRequired, "hook must not be nil")
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.hooks[layer] = append(m.hooks[layer], hookEntry{id: id, hook: h})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.removeHook(layer, id) })
	}, nil
}

func (m *Model) removeHook(layer int, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.hooks[layer]
	for i, e := range entries {
		if e.id == id {
			m.hooks[layer] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(m.hooks[layer]) == 0 {
		delete(m.hooks, layer)
	}
}

// HookCount returns the number of hooks currently registered across all blocks.
func (m *Model) HookCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, entries := range m.hooks {
		n += len(entries)
	}
	return n
}

func (m *Model) hooksFor(layer int) []model.Hook {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.hooks[layer]
	if len(entries) == 0 {
		return nil
	}
	out := make([]model.Hook, len(entries))
	for i, e := range entries {
		out[i] = e.hook
	}
	return out
}

func newLayerNorm(n int) layerNorm {
	g := make([]float32, n)
	for i := range g {
		g[i] = 1
	}
	return layerNorm{gamma: g, beta: make([]float32, n)}
}

func newLinear(rng *rand.Rand, in, out int) linear {
	return linear{
		in:  in,
		out: out,
		w:   randn(rng, in*out, 1/math.Sqrt(float64(in))),
		b:   make([]float32, out),
	}
}

func randn(rng *rand.Rand, n int, std float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * std)
	}
	return out
}
