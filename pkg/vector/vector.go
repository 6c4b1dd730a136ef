// Package vector holds trained control vectors: one steering direction per
// layer, with training metadata, a fingerprint and a versioned file format.
//
// A ControlVector is Untrained as a zero value and Trained once produced by
// Train, FromDirections or Decode. Trained vectors are immutable; every accessor
// returns a copy.
package vector

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/r3d91ll/palinor/pkg/direction"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Traits names the two poles a vector was trained on.
type Traits struct {
	Positive string `json:"positive,omitempty"`
	Negative string `json:"negative,omitempty"`
}

// Metadata describes how and where a vector was trained.
type Metadata struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	Model         string                  `json:"model"`
	Traits        Traits                  `json:"traits"`
	Pairs         int                     `json:"pairs"`
	Reduction     direction.Reduction     `json:"reduction"`
	Normalization direction.Normalization `json:"normalization"`
	CreatedAt     time.Time               `json:"created_at"`
}

// ControlVector maps layer ids to steering directions.
type ControlVector struct {
	meta       Metadata
	hiddenDim  int
	layerIDs   []model.LayerID
	directions map[model.LayerID][]float32
}

// FromDirections builds a Trained vector from explicit directions. Every
// direction must have the same non-zero length and contain only finite values.
// An empty meta.ID is filled with a fresh UUID and a zero CreatedAt with now.
func FromDirections(dirs map[model.LayerID][]float32, meta Metadata) (*ControlVector, error) {
	if len(dirs) == 0 {
		return nil, perrors.Validation(perrors.ErrValidationRequired, "control vector needs at least one layer")
	}

	ids := make([]model.LayerID, 0, len(dirs))
	for id := range dirs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	hidden := len(dirs[ids[0]])
	copied := make(map[model.LayerID][]float32, len(dirs))
	for _, id := range ids {
		d := dirs[id]
		if len(d) == 0 || len(d) != hidden {
			return nil, perrors.Configf(perrors.ErrVectorDimMismatch,
				"layer %d direction has %d values, want %d", id, len(d), hidden)
		}
		for i, v := range d {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, perrors.Validationf(perrors.ErrValidationInvalidValue,
					"layer %d direction has non-finite value at %d", id, i)
			}
		}
		copied[id] = append([]float32(nil), d...)
	}

	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	return &ControlVector{
		meta:       meta,
		hiddenDim:  hidden,
		layerIDs:   ids,
		directions: copied,
	}, nil
}

// Trained reports whether the vector holds directions.
func (v *ControlVector) Trained() bool {
	return v != nil && len(v.directions) > 0
}

func (v *ControlVector) requireTrained() error {
	if !v.Trained() {
		return perrors.State(perrors.ErrVectorUntrained, "control vector has not been trained")
	}
	return nil
}

// Meta returns the vector's metadata.
func (v *ControlVector) Meta() Metadata {
	if v == nil {
		return Metadata{}
	}
	return v.meta
}

func (v *ControlVector) ID() string    { return v.Meta().ID }
func (v *ControlVector) Name() string  { return v.Meta().Name }
func (v *ControlVector) Model() string { return v.Meta().Model }

// HiddenDim returns the length of every direction, or 0 when untrained.
func (v *ControlVector) HiddenDim() int {
	if v == nil {
		return 0
	}
	return v.hiddenDim
}

// LayerIDs returns the layer ids in ascending order.
func (v *ControlVector) LayerIDs() []model.LayerID {
	if v == nil {
		return nil
	}
	return append([]model.LayerID(nil), v.layerIDs...)
}

// Direction returns a copy of the direction for id.
func (v *ControlVector) Direction(id model.LayerID) ([]float32, bool) {
	if v == nil {
		return nil, false
	}
	d, ok := v.directions[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), d...), true
}

// Directions returns a copy of every direction.
func (v *ControlVector) Directions() map[model.LayerID][]float32 {
	if v == nil {
		return nil
	}
	out := make(map[model.LayerID][]float32, len(v.directions))
	for id, d := range v.directions {
		out[id] = append([]float32(nil), d...)
	}
	return out
}

// Fingerprint is the hex SHA-256 of the layer ids and direction bits, in layer
// order. Equal fingerprints mean bit-identical directions. Empty when untrained.
func (v *ControlVector) Fingerprint() string {
	if !v.Trained() {
		return ""
	}
	return fingerprint(v.layerIDs, v.directions)
}

func fingerprint(ids []model.LayerID, dirs map[model.LayerID][]float32) string {
	h := sha256.New()
	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(id)))
		h.Write(buf[:])
		d := dirs[id]
		binary.LittleEndian.PutUint64(buf[:], uint64(len(d)))
		h.Write(buf[:])
		for _, x := range d {
			binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(x))
			h.Write(buf[:4])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Resolve maps every layer id onto a concrete block for a model with depth
// blocks. The result is aligned with LayerIDs.
func (v *ControlVector) Resolve(depth int) ([]int, error) {
	if err := v.requireTrained(); err != nil {
		return nil, err
	}
	return model.ResolveLayers(v.layerIDs, depth)
}
