// Package manager ties a model, the steering controller, vector files and the
// vector catalog together behind train / generate / list operations.
package manager

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/r3d91ll/palinor/pkg/config"
	"github.com/r3d91ll/palinor/pkg/dataset"
	"github.com/r3d91ll/palinor/pkg/direction"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/model/reference"
	"github.com/r3d91ll/palinor/pkg/registry"
	"github.com/r3d91ll/palinor/pkg/steering"
	"github.com/r3d91ll/palinor/pkg/vector"
)

// DefaultStrength is the steering coefficient used when a vector is named
// without one.
const DefaultStrength = 1.0

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName checks that name is usable as a vector or dataset file stem.
func ValidateName(kind, name string) error {
	if !validName.MatchString(name) {
		return perrors.Validationf(perrors.ErrValidationInvalidValue,
			"%s name %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", kind, name)
	}
	return nil
}

// Manager serializes all access to one model. It is safe for concurrent use.
type Manager struct {
	cfg   *config.Config
	host  model.Host
	tok   model.Tokenizer
	ctrl  *steering.Controller
	store *registry.Store

	mu    sync.Mutex
	cache map[string]*vector.ControlVector // keyed by vector name
}

// Open builds the reference model described by cfg and opens the catalog.
func Open(cfg *config.Config) (*Manager, error) {
	host, err := reference.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	store, err := registry.Open(cfg.CatalogPath())
	if err != nil {
		return nil, err
	}
	return New(cfg, host, reference.ByteTokenizer{}, store), nil
}

// New wraps an existing host. The Manager takes ownership of store.
func New(cfg *config.Config, host model.Host, tok model.Tokenizer, store *registry.Store) *Manager {
	return &Manager{
		cfg:   cfg,
		host:  host,
		tok:   tok,
		ctrl:  steering.New(host, tok),
		store: store,
		cache: make(map[string]*vector.ControlVector),
	}
}

// Close releases the controller and the catalog.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.ctrl.Close()
	return m.store.Close()
}

// ModelName returns the name of the managed model.
func (m *Manager) ModelName() string { return m.host.Name() }

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config { return m.cfg }

// TrainRequest describes a vector to train.
type TrainRequest struct {
	Name    string
	Dataset dataset.Dataset
	Traits  vector.Traits
}

// Train trains a vector with the configured training options, writes it under
// the model's vector directory and records it in the catalog.
func (m *Manager) Train(ctx context.Context, req TrainRequest) (*vector.ControlVector, registry.Entry, error) {
	if err := ValidateName("vector", req.Name); err != nil {
		return nil, registry.Entry{}, err
	}
	if req.Dataset == nil {
		return nil, registry.Entry{}, perrors.Validation(perrors.ErrValidationRequired, "a dataset is required for training")
	}

	t := m.cfg.Training
	opts := vector.Options{
		LayerIDs:      t.LayerIDs,
		MaxBatchSize:  t.MaxBatchSize,
		MaxRetries:    t.MaxRetries,
		Reduction:     direction.Reduction(t.Reduction),
		Normalization: direction.Normalization(t.Normalization),
		Name:          req.Name,
		Model:         m.host.Name(),
		Traits:        req.Traits,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := vector.Train(ctx, m.host, m.tok, req.Dataset, opts)
	if err != nil {
		return nil, registry.Entry{}, err
	}

	path := filepath.Join(m.cfg.VectorsDir(m.host.Name()), req.Name+vector.Ext)
	if err := v.ToFile(path); err != nil {
		return nil, registry.Entry{}, err
	}
	entry := registry.EntryFor(v, path)
	if err := m.store.Put(ctx, entry); err != nil {
		return nil, registry.Entry{}, err
	}
	m.cache[req.Name] = v
	return v, entry, nil
}

// Vector loads a trained vector by name, from the cache, the catalog, or the
// model's vector directory in that order.
func (m *Manager) Vector(ctx context.Context, name string) (*vector.ControlVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vectorLocked(ctx, name)
}

func (m *Manager) vectorLocked(ctx context.Context, name string) (*vector.ControlVector, error) {
	if v, ok := m.cache[name]; ok {
		return v, nil
	}
	if err := ValidateName("vector", name); err != nil {
		return nil, err
	}

	path := filepath.Join(m.cfg.VectorsDir(m.host.Name()), name+vector.Ext)
	entry, err := m.store.Get(ctx, m.host.Name(), name)
	switch {
	case err == nil:
		path = entry.Path
	case !perrors.IsCode(err, perrors.ErrVectorNotFound):
		return nil, err
	}

	v, err := vector.FromFile(path)
	if err != nil {
		return nil, err
	}
	if entry.Fingerprint != "" && entry.Fingerprint != v.Fingerprint() {
		log.Printf("[manager] vector %q changed on disk since it was cataloged", name)
	}
	m.cache[name] = v
	return v, nil
}

// List returns the catalog entries for the managed model.
func (m *Manager) List(ctx context.Context) ([]registry.Entry, error) {
	return m.store.List(ctx, m.host.Name())
}

// Delete removes a vector from the catalog and deletes its file.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.store.Get(ctx, m.host.Name(), name)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, m.host.Name(), name); err != nil {
		return err
	}
	delete(m.cache, name)
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return perrors.IOWrap(err, perrors.ErrIOWriteFailed, "failed to remove vector file").
			WithContext("path", entry.Path)
	}
	return nil
}

// GenerateRequest describes one completion.
type GenerateRequest struct {
	Prompt string

	// Vector names the control vector to apply; empty means unsteered.
	Vector   string
	Strength float64

	// Options overrides the configured generation defaults when non-nil.
	Options *model.GenerateOptions

	// OnToken receives every generated token with its decoded text. Returning
	// false stops generation.
	OnToken func(step, token int, text string) bool
}

// GenerateResult is a finished completion.
type GenerateResult struct {
	Text   string `json:"text"`
	Tokens []int  `json:"tokens"`
}

// Generate completes req.Prompt with the requested steering. Steering is reset
// before Generate returns, so requests do not leak into each other.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	opts := m.cfg.Generation.Options()
	if req.Options != nil {
		opts = *req.Options
	}
	if req.OnToken != nil {
		onToken := req.OnToken
		opts.OnToken = func(step, tok int) bool {
			return onToken(step, tok, m.tok.Decode([]int{tok}))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Vector != "" {
		v, err := m.vectorLocked(ctx, req.Vector)
		if err != nil {
			return GenerateResult{}, err
		}
		if err := m.ctrl.SetControl(v, req.Strength); err != nil {
			return GenerateResult{}, err
		}
		defer m.ctrl.Reset()
	} else {
		m.ctrl.Reset()
	}

	out, err := m.ctrl.Generate(ctx, m.tok.Encode(req.Prompt), opts)
	if err != nil {
		return GenerateResult{}, err
	}
	return GenerateResult{Text: m.tok.Decode(out), Tokens: out}, nil
}

// CreateDataset builds pairs from scaffolds (DefaultScaffolds when empty) and
// saves them as <name>.jsonl in the datasets directory.
func (m *Manager) CreateDataset(name, positive, negative string, scaffolds []string) (string, dataset.Slice, error) {
	if err := ValidateName("dataset", name); err != nil {
		return "", nil, err
	}
	if len(scaffolds) == 0 {
		scaffolds = dataset.DefaultScaffolds
	}
	pairs, err := dataset.Contrast(scaffolds, positive, negative)
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(m.cfg.DatasetsDir(), name+".jsonl")
	if err := dataset.SaveJSONL(path, pairs); err != nil {
		return "", nil, err
	}
	return path, pairs, nil
}

// Datasets lists the saved dataset names.
func (m *Manager) Datasets() ([]string, error) {
	return dataset.List(m.cfg.DatasetsDir())
}

// LoadDataset loads ref as a file path if it exists, otherwise as the name of a
// saved dataset.
func (m *Manager) LoadDataset(ref string) (dataset.Slice, error) {
	if _, err := os.Stat(ref); err == nil {
		return dataset.LoadJSONL(ref)
	}
	if err := ValidateName("dataset", ref); err != nil {
		return nil, err
	}
	return dataset.LoadJSONL(filepath.Join(m.cfg.DatasetsDir(), ref+".jsonl"))
}
