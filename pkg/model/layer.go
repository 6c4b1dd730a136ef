package model

import (
	"strconv"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
)

// LayerID names a transformer block: a non-negative index, or a negative offset
// from the end (-1 is the final block).
type LayerID = int

// ResolveLayer maps id onto a concrete block index for a model with depth blocks.
func ResolveLayer(id LayerID, depth int) (int, error) {
	idx := id
	if id < 0 {
		idx = depth + id
	}
	if depth <= 0 || idx < 0 || idx >= depth {
		return 0, perrors.Configf(perrors.ErrLayerInvalid,
			"layer id %d does not resolve for a model with %d layers", id, depth).
			WithContext("layer_id", strconv.Itoa(id)).
			WithContext("layers", strconv.Itoa(depth))
	}
	return idx, nil
}

// ResolveLayers resolves every id and rejects ids that land on the same block.
// The result is index-aligned with ids.
func ResolveLayers(ids []LayerID, depth int) ([]int, error) {
	if len(ids) == 0 {
		return nil, perrors.Config(perrors.ErrLayerInvalid, "no layer ids given")
	}
	out := make([]int, len(ids))
	seen := make(map[int]LayerID, len(ids))
	for i, id := range ids {
		idx, err := ResolveLayer(id, depth)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[idx]; dup {
			return nil, perrors.Configf(perrors.ErrLayerDuplicate,
				"layer ids %d and %d both resolve to block %d", prev, id, idx).
				WithContext("block", strconv.Itoa(idx))
		}
		seen[idx] = id
		out[i] = idx
	}
	return out, nil
}
