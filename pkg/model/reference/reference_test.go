package reference

import (
	"context"
	"testing"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func greedy(n int) model.GenerateOptions {
	return model.GenerateOptions{MaxNewTokens: n}
}

// -----------------------------------------------------------------------------
// Config Tests
// -----------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero hidden", func(c *Config) { c.HiddenDim = 0 }},
		{"zero layers", func(c *Config) { c.Layers = 0 }},
		{"heads do not divide hidden", func(c *Config) { c.Heads = 5 }},
		{"zero ff", func(c *Config) { c.FFHidden = 0 }},
		{"max seq of one", func(c *Config) { c.MaxSeq = 1 }},
		{"negative budget", func(c *Config) { c.MemoryBudget = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); !perrors.IsCode(err, perrors.ErrConfigInvalid) {
				t.Errorf("expected %s, got %v", perrors.ErrConfigInvalid, err)
			}
		})
	}
}

func TestNew_FillsName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = ""
	cfg.Layers = 2
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Name() != "palinor-reference-2l" {
		t.Errorf("unexpected name %q", m.Name())
	}
}

// -----------------------------------------------------------------------------
// Hook Tests
// -----------------------------------------------------------------------------

func TestAddHook_FiresOncePerBlock(t *testing.T) {
	m := newTestModel(t)
	calls := make(map[int]int)
	for l := 0; l < m.NumLayers(); l++ {
		if _, err := m.AddHook(l, func(layer int, act *model.Tensor) *model.Tensor {
			calls[layer]++
			return nil
		}); err != nil {
			t.Fatalf("AddHook(%d): %v", l, err)
		}
	}

	if err := m.Forward(context.Background(), [][]int{{BOS, 'h', 'i'}}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for l := 0; l < m.NumLayers(); l++ {
		if calls[l] != 1 {
			t.Errorf("layer %d: %d calls, want 1", l, calls[l])
		}
	}
}

func TestAddHook_InvalidLayer(t *testing.T) {
	m := newTestModel(t)
	noop := func(int, *model.Tensor) *model.Tensor { return nil }
	if _, err := m.AddHook(m.NumLayers(), noop); !perrors.IsCode(err, perrors.ErrLayerInvalid) {
		t.Errorf("expected %s, got %v", perrors.ErrLayerInvalid, err)
	}
	if _, err := m.AddHook(0, nil); err == nil {
		t.Error("expected error for nil hook")
	}
}

func TestAddHook_RemoveIsIdempotent(t *testing.T) {
	m := newTestModel(t)
	noop := func(int, *model.Tensor) *model.Tensor { return nil }
	removeA, _ := m.AddHook(1, noop)
	_, _ = m.AddHook(1, noop)

	removeA()
	removeA()
	if got := m.HookCount(); got != 1 {
		t.Errorf("HookCount = %d, want 1", got)
	}
}

func TestAddHook_RegistrationOrder(t *testing.T) {
	m := newTestModel(t)
	var order []string
	_, _ = m.AddHook(0, func(int, *model.Tensor) *model.Tensor { order = append(order, "a"); return nil })
	_, _ = m.AddHook(0, func(int, *model.Tensor) *model.Tensor { order = append(order, "b"); return nil })

	if err := m.Forward(context.Background(), [][]int{{BOS}}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("hooks ran in order %v", order)
	}
}

func TestAddHook_ShapeMismatch(t *testing.T) {
	m := newTestModel(t)
	_, _ = m.AddHook(0, func(int, *model.Tensor) *model.Tensor {
		return model.NewTensor(1, 1, 3)
	})
	err := m.Forward(context.Background(), [][]int{{BOS, 'a'}})
	if !perrors.IsCode(err, perrors.ErrHooksInconsistent) {
		t.Errorf("expected %s, got %v", perrors.ErrHooksInconsistent, err)
	}
}

// -----------------------------------------------------------------------------
// Forward Tests
// -----------------------------------------------------------------------------

func TestForward_PaddingDoesNotLeak(t *testing.T) {
	m := newTestModel(t)
	last := m.NumLayers() - 1
	short := []int{BOS, 'o', 'k'}

	var alone, batched []float32
	remove, _ := m.AddHook(last, func(_ int, act *model.Tensor) *model.Tensor {
		alone = append([]float32(nil), act.Row(0, act.Len(0)-1)...)
		return nil
	})
	if err := m.Forward(context.Background(), [][]int{short}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	remove()

	_, _ = m.AddHook(last, func(_ int, act *model.Tensor) *model.Tensor {
		batched = append([]float32(nil), act.Row(1, act.Len(1)-1)...)
		return nil
	})
	long := []int{BOS, 'a', 'm', 'u', 'c', 'h', ' ', 'l', 'o', 'n', 'g', 'e', 'r'}
	if err := m.Forward(context.Background(), [][]int{long, short}); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	for i := range alone {
		if alone[i] != batched[i] {
			t.Fatalf("dim %d: alone %v, batched %v", i, alone[i], batched[i])
		}
	}
}

func TestForward_MemoryBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryBudget = 2 * 4 * cfg.HiddenDim
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	row := []int{BOS, 'a', 'b', 'c'}
	if err := m.Forward(context.Background(), [][]int{row, row}); err != nil {
		t.Fatalf("batch within budget failed: %v", err)
	}

	err = m.Forward(context.Background(), [][]int{row, row, row})
	if !model.IsOutOfMemory(err) {
		t.Fatalf("expected out-of-memory, got %v", err)
	}
	if !perrors.IsCategory(err, perrors.CategoryDevice) {
		t.Errorf("expected device category, got %v", err)
	}
}

func TestForward_RejectsBadInput(t *testing.T) {
	m := newTestModel(t)
	tests := []struct {
		name  string
		batch [][]int
	}{
		{"empty batch", nil},
		{"empty row", [][]int{{}}},
		{"token out of range", [][]int{{BOS, VocabSize}}},
		{"negative token", [][]int{{-1}}},
		{"too long", [][]int{make([]int, DefaultConfig().MaxSeq+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.Forward(context.Background(), tt.batch); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestForward_Cancelled(t *testing.T) {
	m := newTestModel(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Forward(ctx, [][]int{{BOS}}); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Generate Tests
// -----------------------------------------------------------------------------

func TestGenerate_Deterministic(t *testing.T) {
	a := newTestModel(t)
	b := newTestModel(t)
	prompt := ByteTokenizer{}.Encode("Once upon a time")

	outA, err := a.Generate(context.Background(), prompt, greedy(12))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	outB, err := b.Generate(context.Background(), prompt, greedy(12))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !equalTokens(outA, outB) {
		t.Errorf("same config produced different output: %v vs %v", outA, outB)
	}
	if len(outA) == 0 {
		t.Error("expected at least one token")
	}
}

func TestGenerate_SeededSampling(t *testing.T) {
	m := newTestModel(t)
	prompt := ByteTokenizer{}.Encode("seed")
	opts := model.GenerateOptions{MaxNewTokens: 10, Temperature: 1.0, Seed: 42}

	first, err := m.Generate(context.Background(), prompt, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := m.Generate(context.Background(), prompt, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !equalTokens(first, second) {
		t.Errorf("same seed produced %v and %v", first, second)
	}
}

func TestGenerate_HooksFireEveryStep(t *testing.T) {
	m := newTestModel(t)
	calls := 0
	_, _ = m.AddHook(0, func(int, *model.Tensor) *model.Tensor { calls++; return nil })

	out, err := m.Generate(context.Background(), []int{BOS, 'x'}, greedy(5))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != len(out) {
		t.Errorf("hook fired %d times for %d steps", calls, len(out))
	}
}

func TestGenerate_OnTokenStops(t *testing.T) {
	m := newTestModel(t)
	opts := greedy(10)
	var seen []int
	opts.OnToken = func(step, tok int) bool {
		seen = append(seen, tok)
		return step < 2
	}
	out, err := m.Generate(context.Background(), []int{BOS}, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) > 3 || !equalTokens(out, seen) {
		t.Errorf("out %v, seen %v", out, seen)
	}
}

func TestGenerate_SlidingWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSeq = 4
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := m.Generate(context.Background(), []int{BOS, 'a', 'b', 'c', 'd', 'e'}, greedy(3)); err != nil {
		t.Errorf("prompt longer than max_seq should slide, got %v", err)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	m := newTestModel(t)
	if _, err := m.Generate(context.Background(), nil, greedy(1)); err == nil {
		t.Error("expected error for empty prompt")
	}
}

// -----------------------------------------------------------------------------
// Tokenizer Tests
// -----------------------------------------------------------------------------

func TestByteTokenizer_RoundTrip(t *testing.T) {
	tok := ByteTokenizer{}
	for _, s := range []string{"", "hello", "héllo wörld", "Once upon a time"} {
		ids := tok.Encode(s)
		if ids[0] != BOS {
			t.Errorf("%q: first token %d, want BOS", s, ids[0])
		}
		if got := tok.Decode(ids); got != s {
			t.Errorf("round trip of %q gave %q", s, got)
		}
	}
}

func TestByteTokenizer_DecodeSkipsSpecials(t *testing.T) {
	got := ByteTokenizer{}.Decode([]int{BOS, 'o', 'k', EOS})
	if got != "ok" {
		t.Errorf("got %q", got)
	}
}

func equalTokens(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
