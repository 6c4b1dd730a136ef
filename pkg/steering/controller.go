// Package steering applies control vectors to a live model during generation.
package steering

import (
	"context"
	"log"
	"strconv"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/hooks"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/vector"
)

// Session is the steering currently applied by a Controller.
type Session struct {
	Vector      *vector.ControlVector
	Coefficient float64

	blocks     []int
	directions map[model.LayerID][]float32
}

// Controller wraps a host model and steers its generations. It does not own
// the model; closing a Controller only removes its own hooks.
type Controller struct {
	host     model.Host
	tok      model.Tokenizer
	registry *hooks.Registry
	session  *Session
	closed   bool
}

// New creates a Controller for host. tok may be nil if GenerateText is unused.
func New(host model.Host, tok model.Tokenizer) *Controller {
	return &Controller{
		host:     host,
		tok:      tok,
		registry: hooks.NewRegistry(host),
	}
}

// Host returns the wrapped model.
func (c *Controller) Host() model.Host { return c.host }

// SetControl steers every layer in v by coefficient*direction, replacing any
// previous session. A nil v is the same as Reset. The vector is checked against
// the model before any hook changes, so a rejected vector leaves the previous
// session in place.
func (c *Controller) SetControl(v *vector.ControlVector, coefficient float64) error {
	if c.closed {
		return perrors.State(perrors.ErrSteeringClosed, "controller is closed")
	}
	if v == nil {
		c.Reset()
		return nil
	}
	if !v.Trained() {
		return perrors.State(perrors.ErrVectorUntrained, "cannot steer with an untrained control vector")
	}
	if v.HiddenDim() != c.host.HiddenDim() {
		return perrors.Configf(perrors.ErrVectorDimMismatch,
			"vector hidden size %d does not match model hidden size %d", v.HiddenDim(), c.host.HiddenDim()).
			WithContext("vector", v.Name()).
			WithContext("model", c.host.Name())
	}
	blocks, err := v.Resolve(c.host.NumLayers())
	if err != nil {
		return err
	}

	sess := &Session{
		Vector:      v,
		Coefficient: coefficient,
		blocks:      blocks,
		directions:  v.Directions(),
	}

	c.registry.DetachAll()
	c.session = nil
	if err := c.registry.Attach(v.LayerIDs(), c.inject(sess)); err != nil {
		return err
	}
	c.session = sess

	log.Printf("[steer] applied %q at %v with coefficient %g", v.Name(), v.LayerIDs(), coefficient)
	return nil
}

// inject returns the hook adding coefficient*direction to every real position.
func (c *Controller) inject(sess *Session) hooks.Callback {
	coeff := float32(sess.Coefficient)
	return func(id model.LayerID, act *model.Tensor) *model.Tensor {
		if coeff == 0 {
			return nil
		}
		dir := sess.directions[id]
		out := act.Clone()
		for b := 0; b < out.Batch; b++ {
			for s := 0; s < out.Len(b); s++ {
				row := out.Row(b, s)
				for i := range row {
					row[i] += coeff * dir[i]
				}
			}
		}
		return out
	}
}

// Reset removes all steering. Safe to call at any time.
func (c *Controller) Reset() {
	c.registry.DetachAll()
	if c.session != nil {
		log.Printf("[steer] reset")
	}
	c.session = nil
}

// Session returns the active session, or nil when unsteered.
func (c *Controller) Session() *Session {
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Generate decodes after prompt with the current steering applied identically at
// every decoding step.
func (c *Controller) Generate(ctx context.Context, prompt []int, opts model.GenerateOptions) ([]int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.host.Generate(ctx, prompt, opts)
}

// GenerateText encodes text, generates, and decodes only the new tokens.
func (c *Controller) GenerateText(ctx context.Context, text string, opts model.GenerateOptions) (string, error) {
	if c.tok == nil {
		return "", perrors.Validation(perrors.ErrValidationRequired, "controller has no tokenizer")
	}
	out, err := c.Generate(ctx, c.tok.Encode(text), opts)
	if err != nil {
		return "", err
	}
	return c.tok.Decode(out), nil
}

// Close resets the controller. Every later call fails with STEERING_CLOSED.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.Reset()
	c.closed = true
	return nil
}

// check verifies that the registry still holds every hook of the session.
func (c *Controller) check() error {
	if c.closed {
		return perrors.State(perrors.ErrSteeringClosed, "controller is closed")
	}
	if c.session == nil {
		return nil
	}
	for _, block := range c.session.blocks {
		if !c.registry.Has(block) {
			return perrors.Statef(perrors.ErrSteeringHooksMissing,
				"steering hook for block %d is not attached", block).
				WithContext("vector", c.session.Vector.Name()).
				WithContext("block", strconv.Itoa(block))
		}
	}
	return nil
}
