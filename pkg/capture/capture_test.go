package capture

import (
	"context"
	"testing"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/model/reference"
)

func newHost(t *testing.T, budget int) *reference.Model {
	t.Helper()
	cfg := reference.DefaultConfig()
	cfg.MemoryBudget = budget
	m, err := reference.New(cfg)
	if err != nil {
		t.Fatalf("reference.New: %v", err)
	}
	return m
}

// seqs returns n sequences of exactly length tokens.
func seqs(n, length int) [][]int {
	out := make([][]int, n)
	for i := range out {
		row := make([]int, length)
		row[0] = reference.BOS
		for j := 1; j < length; j++ {
			row[j] = 'a' + (i+j)%26
		}
		out[i] = row
	}
	return out
}

// -----------------------------------------------------------------------------
// Capture Tests
// -----------------------------------------------------------------------------

func TestCapture_RecordsRequestedLayers(t *testing.T) {
	m := newHost(t, 0)
	c, err := New(m, []model.LayerID{-1, 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	acts, err := c.Capture(context.Background(), seqs(2, 5))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	for _, id := range []model.LayerID{-1, 0} {
		act, ok := acts[id]
		if !ok {
			t.Fatalf("layer %d not recorded", id)
		}
		if act.Batch != 2 || act.Seq != 5 || act.Hidden != m.HiddenDim() {
			t.Errorf("layer %d: shape %v", id, act.Shape())
		}
	}
	if m.HookCount() != 0 {
		t.Errorf("%d hooks left attached", m.HookCount())
	}
}

func TestCapture_DoesNotChangeOutput(t *testing.T) {
	m := newHost(t, 0)
	prompt := reference.ByteTokenizer{}.Encode("steady")
	opts := model.GenerateOptions{MaxNewTokens: 8}

	before, err := m.Generate(context.Background(), prompt, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	c, _ := New(m, []model.LayerID{0, 1, 2, 3})
	if _, err := c.Capture(context.Background(), seqs(3, 6)); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	after, err := m.Generate(context.Background(), prompt, opts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("output length changed: %v vs %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("output changed after capture: %v vs %v", before, after)
		}
	}
}

func TestNew_InvalidLayer(t *testing.T) {
	m := newHost(t, 0)
	if _, err := New(m, []model.LayerID{9}); !perrors.IsCode(err, perrors.ErrLayerInvalid) {
		t.Errorf("expected %s, got %v", perrors.ErrLayerInvalid, err)
	}
}

// -----------------------------------------------------------------------------
// Backoff Tests
// -----------------------------------------------------------------------------

func TestCaptureAll_Chunks(t *testing.T) {
	m := newHost(t, 0)
	c, _ := New(m, []model.LayerID{-1})
	c.MaxBatchSize = 4

	out, err := c.CaptureAll(context.Background(), seqs(10, 4))
	if err != nil {
		t.Fatalf("CaptureAll: %v", err)
	}
	chunks := out[-1]
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Batch != 4 || chunks[1].Batch != 4 || chunks[2].Batch != 2 {
		t.Errorf("chunk sizes %d %d %d", chunks[0].Batch, chunks[1].Batch, chunks[2].Batch)
	}
}

func TestCaptureAll_HalvesOnOutOfMemory(t *testing.T) {
	length := 6
	hidden := reference.DefaultConfig().HiddenDim
	// Room for two sequences per pass, not four.
	m := newHost(t, 2*length*hidden)
	c, _ := New(m, []model.LayerID{-1})
	c.MaxBatchSize = 4

	out, err := c.CaptureAll(context.Background(), seqs(5, length))
	if err != nil {
		t.Fatalf("CaptureAll: %v", err)
	}

	total := 0
	for _, chunk := range out[-1] {
		if chunk.Batch > 2 {
			t.Errorf("chunk of %d exceeded the reduced batch size", chunk.Batch)
		}
		total += chunk.Batch
	}
	if total != 5 {
		t.Errorf("captured %d sequences, want 5", total)
	}
}

func TestCaptureAll_SurfacesDeviceError(t *testing.T) {
	tests := []struct {
		name       string
		budget     int
		maxRetries int
	}{
		// Not even one sequence fits: 4 -> 2 -> 1 then fail.
		{"fails at batch size one", 1, 3},
		// Two would fit, but no halving is allowed.
		{"retries exhausted", 2 * 6 * reference.DefaultConfig().HiddenDim, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newHost(t, tt.budget)
			c, _ := New(m, []model.LayerID{-1})
			c.MaxBatchSize = 4
			c.MaxRetries = tt.maxRetries

			_, err := c.CaptureAll(context.Background(), seqs(4, 6))
			if !perrors.IsCategory(err, perrors.CategoryDevice) {
				t.Fatalf("expected device error, got %v", err)
			}
			if !model.IsOutOfMemory(err) {
				t.Errorf("expected %s, got %v", perrors.ErrDeviceOutOfMemory, err)
			}
			if m.HookCount() != 0 {
				t.Errorf("%d hooks left attached after failure", m.HookCount())
			}
		})
	}
}

func TestCaptureAll_InvalidBatchSize(t *testing.T) {
	m := newHost(t, 0)
	c, _ := New(m, []model.LayerID{-1})
	c.MaxBatchSize = 0
	if _, err := c.CaptureAll(context.Background(), seqs(1, 3)); err == nil {
		t.Error("expected error for zero batch size")
	}
}

func TestCaptureAll_Cancelled(t *testing.T) {
	m := newHost(t, 0)
	c, _ := New(m, []model.LayerID{-1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CaptureAll(ctx, seqs(2, 3)); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
