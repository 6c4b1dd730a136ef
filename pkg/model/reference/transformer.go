package reference

import (
	"context"
	"math/rand"
	"strconv"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Forward runs one pass over batch and fires the block hooks. Nothing is returned;
// callers observe activations through hooks.
func (m *Model) Forward(ctx context.Context, batch [][]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.run(batch)
	return err
}

// Generate decodes after prompt, re-running the full forward pass every step so
// that every hook sees every decoding step.
func (m *Model) Generate(ctx context.Context, prompt []int, opts model.GenerateOptions) ([]int, error) {
	if len(prompt) == 0 {
		return nil, perrors.Validation(perrors.ErrValidationRequired, "prompt must contain at least one token")
	}
	if opts.MaxNewTokens <= 0 {
		return nil, nil
	}

	tokens := append(make([]int, 0, len(prompt)+opts.MaxNewTokens), prompt...)
	rng := rand.New(rand.NewSource(opts.Seed))
	normed := make([]float32, m.cfg.HiddenDim)
	logits := make([]float32, m.cfg.VocabSize)
	var out []int

	for step := 0; step < opts.MaxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		window := tokens
		if len(window) > m.cfg.MaxSeq {
			window = window[len(window)-m.cfg.MaxSeq:]
		}
		hidden, err := m.run([][]int{window})
		if err != nil {
			return out, err
		}

		applyLayerNorm(normed, hidden.Row(0, len(window)-1), m.lnFinal)
		m.lmHead.apply(logits, normed)
		tok := sampleToken(logits, opts.Temperature, rng)

		tokens = append(tokens, tok)
		out = append(out, tok)
		if opts.OnToken != nil && !opts.OnToken(step, tok) {
			break
		}
		if tok == EOS {
			break
		}
	}
	return out, nil
}

// run executes all blocks over a right-padded batch and returns the final
// residual stream. Each row attends only to its own real positions.
func (m *Model) run(batch [][]int) (*model.Tensor, error) {
	if len(batch) == 0 {
		return nil, perrors.Validation(perrors.ErrValidationRequired, "batch must contain at least one sequence")
	}

	seq := 0
	for i, row := range batch {
		if len(row) == 0 {
			return nil, perrors.Validationf(perrors.ErrValidationInvalidValue, "sequence %d is empty", i)
		}
		if len(row) > m.cfg.MaxSeq {
			return nil, perrors.Validationf(perrors.ErrValidationInvalidValue,
				"sequence %d has %d tokens, model max_seq is %d", i, len(row), m.cfg.MaxSeq)
		}
		for _, tok := range row {
			if tok < 0 || tok >= m.cfg.VocabSize {
				return nil, perrors.Validationf(perrors.ErrValidationInvalidValue,
					"token %d outside vocabulary [0, %d)", tok, m.cfg.VocabSize)
			}
		}
		if len(row) > seq {
			seq = len(row)
		}
	}

	h := m.cfg.HiddenDim
	if need := len(batch) * seq * h; m.cfg.MemoryBudget > 0 && need > m.cfg.MemoryBudget {
		return nil, perrors.Devicef(perrors.ErrDeviceOutOfMemory,
			"forward pass needs %d activation floats, budget is %d", need, m.cfg.MemoryBudget).
			WithContext("batch", strconv.Itoa(len(batch))).
			WithContext("seq", strconv.Itoa(seq))
	}

	x := model.NewTensor(len(batch), seq, h)
	for b, row := range batch {
		x.Lengths[b] = len(row)
		for s, tok := range row {
			dst := x.Row(b, s)
			emb := m.tokEmbed[tok*h : (tok+1)*h]
			pos := m.posEmbed[s*h : (s+1)*h]
			for i := range dst {
				dst[i] = emb[i] + pos[i]
			}
		}
	}

	scratch := newScratch(seq, h, m.cfg.FFHidden)
	for l := range m.blocks {
		for b := 0; b < x.Batch; b++ {
			m.blocks[l].forwardRow(x, b, m.cfg.Heads, scratch)
		}

		for _, hook := range m.hooksFor(l) {
			r := hook(l, x)
			if r == nil {
				continue
			}
			if r.Batch != x.Batch || r.Seq != x.Seq || r.Hidden != x.Hidden || len(r.Data) != len(x.Data) {
				return nil, perrors.Statef(perrors.ErrHooksInconsistent,
					"hook on block %d returned shape %v, want %v", l, r.Shape(), x.Shape())
			}
			// The row lengths are owned by the model, not by hooks.
			r.Lengths = x.Lengths
			x = r
		}
	}
	return x, nil
}

type scratch struct {
	normed, q, k, v, attn, proj []float32
	up                          []float32
	scores                      []float32
	ffOut                       []float32
}

func newScratch(seq, h, ff int) *scratch {
	return &scratch{
		normed: make([]float32, seq*h),
		q:      make([]float32, seq*h),
		k:      make([]float32, seq*h),
		v:      make([]float32, seq*h),
		attn:   make([]float32, seq*h),
		proj:   make([]float32, h),
		up:     make([]float32, ff),
		scores: make([]float32, seq),
		ffOut:  make([]float32, h),
	}
}

// forwardRow applies one pre-norm block to row b of x in place:
// x += attn(ln1(x)); x += ff(ln2(x)).
func (blk *block) forwardRow(x *model.Tensor, b, heads int, sc *scratch) {
	n := x.Len(b)
	h := x.Hidden
	hd := h / heads

	for s := 0; s < n; s++ {
		nr := sc.normed[s*h : (s+1)*h]
		applyLayerNorm(nr, x.Row(b, s), blk.ln1)
		blk.wq.apply(sc.q[s*h:(s+1)*h], nr)
		blk.wk.apply(sc.k[s*h:(s+1)*h], nr)
		blk.wv.apply(sc.v[s*h:(s+1)*h], nr)
	}

	causalAttention(sc.attn[:n*h], sc.q[:n*h], sc.k[:n*h], sc.v[:n*h], sc.scores, n, heads, hd)

	for s := 0; s < n; s++ {
		blk.wo.apply(sc.proj, sc.attn[s*h:(s+1)*h])
		row := x.Row(b, s)
		for i := range row {
			row[i] += sc.proj[i]
		}
	}

	for s := 0; s < n; s++ {
		row := x.Row(b, s)
		nr := sc.normed[:h]
		applyLayerNorm(nr, row, blk.ln2)
		blk.up.apply(sc.up, nr)
		for i, v := range sc.up {
			sc.up[i] = gelu(v)
		}
		blk.down.apply(sc.ffOut, sc.up)
		for i := range row {
			row[i] += sc.ffOut[i]
		}
	}
}
