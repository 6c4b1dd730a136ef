// Package direction reduces contrastive activations into steering directions.
//
// For every layer, each example row is reduced to one hidden-size vector (its
// last real token, or the mean over its real tokens). The direction is the
// difference between the positive mean and the negative mean, then normalized.
package direction

import (
	"math"
	"sort"
	"strconv"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Reduction selects how a row's sequence dimension is collapsed.
type Reduction string

const (
	// ReduceLast uses the last real token, which is what causal decoding conditions on.
	ReduceLast Reduction = "last"
	// ReduceMean averages every real token.
	ReduceMean Reduction = "mean"
)

// Normalization selects how the raw difference of means is scaled.
type Normalization string

const (
	// NormActivation rescales the unit direction to the mean L2 norm of the reduced
	// activations, so a coefficient of 1.0 moves a state by about one typical
	// activation length at that layer.
	NormActivation Normalization = "activation"
	// NormUnit rescales the direction to L2 norm 1.
	NormUnit Normalization = "unit"
	// NormNone keeps the raw difference of means.
	NormNone Normalization = "none"
)

// ParseReduction validates s; empty selects ReduceLast.
func ParseReduction(s string) (Reduction, error) {
	switch Reduction(s) {
	case "", ReduceLast:
		return ReduceLast, nil
	case ReduceMean:
		return ReduceMean, nil
	}
	return "", perrors.Configf(perrors.ErrConfigInvalid, "unknown reduction %q (want last or mean)", s)
}

// ParseNormalization validates s; empty selects NormActivation.
func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(s) {
	case "", NormActivation:
		return NormActivation, nil
	case NormUnit:
		return NormUnit, nil
	case NormNone:
		return NormNone, nil
	}
	return "", perrors.Configf(perrors.ErrConfigInvalid, "unknown normalization %q (want activation, unit or none)", s)
}

// Estimator computes directions under a fixed policy.
type Estimator struct {
	Reduction     Reduction
	Normalization Normalization
}

// New returns an Estimator with the default policy (last token, activation scale).
func New() *Estimator {
	return &Estimator{Reduction: ReduceLast, Normalization: NormActivation}
}

// accumulator sums reduced rows in float64.
type accumulator struct {
	sum   []float64
	norms float64
	n     int
}

func (a *accumulator) add(t *model.Tensor, reduction Reduction) error {
	if err := t.Validate(); err != nil {
		return perrors.ValidationWrap(err, perrors.ErrValidationInvalidValue, "malformed activation tensor")
	}
	if a.sum == nil {
		a.sum = make([]float64, t.Hidden)
	}
	if len(a.sum) != t.Hidden {
		return perrors.Configf(perrors.ErrVectorDimMismatch,
			"activation hidden size %d does not match %d", t.Hidden, len(a.sum))
	}

	row := make([]float64, t.Hidden)
	for b := 0; b < t.Batch; b++ {
		n := t.Len(b)
		for i := range row {
			row[i] = 0
		}
		switch reduction {
		case ReduceMean:
			for s := 0; s < n; s++ {
				for i, v := range t.Row(b, s) {
					row[i] += float64(v)
				}
			}
			for i := range row {
				row[i] /= float64(n)
			}
		default:
			for i, v := range t.Row(b, n-1) {
				row[i] = float64(v)
			}
		}

		var sq float64
		for i, v := range row {
			a.sum[i] += v
			sq += v * v
		}
		a.norms += math.Sqrt(sq)
		a.n++
	}
	return nil
}

// Estimate computes one layer's direction from positive and negative example
// tensors. Any number of tensors and rows per tensor is accepted; every row is
// one example. The two sides need not have equal counts or sequence lengths.
func (e *Estimator) Estimate(pos, neg []*model.Tensor) ([]float32, error) {
	var p, n accumulator
	for _, t := range pos {
		if err := p.add(t, e.Reduction); err != nil {
			return nil, err
		}
	}
	for _, t := range neg {
		if err := n.add(t, e.Reduction); err != nil {
			return nil, err
		}
	}
	if p.n == 0 || n.n == 0 {
		return nil, perrors.Config(perrors.ErrDatasetEmpty, "need at least one positive and one negative example")
	}
	if len(p.sum) != len(n.sum) {
		return nil, perrors.Configf(perrors.ErrVectorDimMismatch,
			"positive hidden size %d, negative hidden size %d", len(p.sum), len(n.sum))
	}

	diff := make([]float64, len(p.sum))
	var sq float64
	for i := range diff {
		diff[i] = p.sum[i]/float64(p.n) - n.sum[i]/float64(n.n)
		sq += diff[i] * diff[i]
	}
	norm := math.Sqrt(sq)
	if norm == 0 {
		return nil, perrors.Config(perrors.ErrDirectionDegenerate,
			"positive and negative activations are identical")
	}

	scale := 1.0
	switch e.Normalization {
	case NormUnit:
		scale = 1 / norm
	case NormNone:
	default:
		scale = ((p.norms + n.norms) / float64(p.n+n.n)) / norm
	}

	out := make([]float32, len(diff))
	for i, v := range diff {
		out[i] = float32(v * scale)
	}
	return out, nil
}

// EstimateAll applies Estimate to every layer present in pos. Every layer in pos
// must also be present in neg.
func (e *Estimator) EstimateAll(pos, neg map[model.LayerID][]*model.Tensor) (map[model.LayerID][]float32, error) {
	ids := make([]model.LayerID, 0, len(pos))
	for id := range pos {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make(map[model.LayerID][]float32, len(ids))
	for _, id := range ids {
		negs, ok := neg[id]
		if !ok {
			return nil, perrors.Statef(perrors.ErrHooksInconsistent,
				"layer %d captured for positives but not negatives", id)
		}
		dir, err := e.Estimate(pos[id], negs)
		if err != nil {
			if perr, ok := perrors.AsPalinorError(err); ok {
				perr.WithContext("layer_id", strconv.Itoa(id))
			}
			return nil, err
		}
		out[id] = dir
	}
	return out, nil
}
