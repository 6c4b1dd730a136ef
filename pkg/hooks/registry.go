// Package hooks manages the interceptors one owner has attached to a model.Host.
//
// A Registry holds at most one interceptor per block. Registries are scoped to
// their owner: a capture pass and a steering controller each hold their own,
// and both can be attached to the same host at once.
package hooks

import (
	"sort"
	"strconv"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/model"
)

// Callback is invoked with the layer id it was attached under (as given by the
// caller, e.g. -1) and the block's activation. Returning nil keeps the original.
type Callback func(id model.LayerID, act *model.Tensor) *model.Tensor

type attachment struct {
	id     model.LayerID
	remove func()
}

// Registry tracks the interceptors attached through it, keyed by concrete block.
type Registry struct {
	host     model.Host
	attached map[int]attachment
}

// NewRegistry creates an empty registry for host.
func NewRegistry(host model.Host) *Registry {
	return &Registry{
		host:     host,
		attached: make(map[int]attachment),
	}
}

// Attach registers cb on every layer in ids. All ids are resolved before any hook
// is installed, so a bad id leaves the registry untouched. A layer that already
// has an interceptor from this registry has it replaced. If the host rejects a
// hook part way through, the hooks added by this call are removed and the
// registry keeps the interceptors it held before the call.
func (r *Registry) Attach(ids []model.LayerID, cb Callback) error {
	if cb == nil {
		return perrors.Validation(perrors.ErrValidationRequired, "hook callback must not be nil")
	}
	blocks, err := model.ResolveLayers(ids, r.host.NumLayers())
	if err != nil {
		return err
	}

	// Replaced interceptors are only removed once every new hook is in place.
	added := make([]attachment, len(blocks))
	for i, block := range blocks {
		id := ids[i]
		remove, err := r.host.AddHook(block, func(_ int, act *model.Tensor) *model.Tensor {
			return cb(id, act)
		})
		if err != nil {
			for _, a := range added[:i] {
				a.remove()
			}
			return perrors.Wrap(err, perrors.ErrHooksInconsistent, perrors.CategoryState,
				"host rejected hook, attach rolled back").
				WithContext("block", strconv.Itoa(block))
		}
		added[i] = attachment{id: id, remove: remove}
	}

	for i, block := range blocks {
		r.detach(block)
		r.attached[block] = added[i]
	}
	return nil
}

// DetachAll removes every interceptor this registry holds. Safe to call when
// nothing is attached.
func (r *Registry) DetachAll() {
	for block := range r.attached {
		r.detach(block)
	}
}

// With attaches cb on ids, runs fn, and always detaches before returning.
func (r *Registry) With(ids []model.LayerID, cb Callback, fn func() error) error {
	if err := r.Attach(ids, cb); err != nil {
		return err
	}
	defer r.DetachAll()
	return fn()
}

// Layers returns the concrete blocks currently intercepted, ascending.
func (r *Registry) Layers() []int {
	out := make([]int, 0, len(r.attached))
	for block := range r.attached {
		out = append(out, block)
	}
	sort.Ints(out)
	return out
}

// Has reports whether the registry holds an interceptor for the concrete block.
func (r *Registry) Has(block int) bool {
	_, ok := r.attached[block]
	return ok
}

// Len returns the number of attached interceptors.
func (r *Registry) Len() int { return len(r.attached) }

func (r *Registry) detach(block int) {
	a, ok := r.attached[block]
	if !ok {
		return
	}
	a.remove()
	delete(r.attached, block)
}
