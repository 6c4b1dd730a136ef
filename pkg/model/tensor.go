package model

import "fmt"

// Tensor is a (batch, seq, hidden) activation block in row-major order.
// Rows shorter than Seq are right-padded; Lengths holds each row's real length.
type Tensor struct {
	Batch   int
	Seq     int
	Hidden  int
	Lengths []int
	Data    []float32
}

// NewTensor allocates a zeroed tensor. Every row length defaults to seq.
func NewTensor(batch, seq, hidden int) *Tensor {
	lengths := make([]int, batch)
	for i := range lengths {
		lengths[i] = seq
	}
	return &Tensor{
		Batch:   batch,
		Seq:     seq,
		Hidden:  hidden,
		Lengths: lengths,
		Data:    make([]float32, batch*seq*hidden),
	}
}

// Row returns the hidden vector at (b, s). The slice aliases t.Data.
func (t *Tensor) Row(b, s int) []float32 {
	off := (b*t.Seq + s) * t.Hidden
	return t.Data[off : off+t.Hidden]
}

// Len returns the real length of row b.
func (t *Tensor) Len(b int) int {
	if b < len(t.Lengths) {
		return t.Lengths[b]
	}
	return t.Seq
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Batch:   t.Batch,
		Seq:     t.Seq,
		Hidden:  t.Hidden,
		Lengths: append([]int(nil), t.Lengths...),
		Data:    make([]float32, len(t.Data)),
	}
	copy(c.Data, t.Data)
	return c
}

// Validate checks that the shape and buffers agree.
func (t *Tensor) Validate() error {
	if t.Batch < 0 || t.Seq < 0 || t.Hidden <= 0 {
		return fmt.Errorf("invalid tensor shape (%d, %d, %d)", t.Batch, t.Seq, t.Hidden)
	}
	if len(t.Data) != t.Batch*t.Seq*t.Hidden {
		return fmt.Errorf("tensor data has %d values, shape needs %d", len(t.Data), t.Batch*t.Seq*t.Hidden)
	}
	if len(t.Lengths) != t.Batch {
		return fmt.Errorf("tensor has %d lengths for batch %d", len(t.Lengths), t.Batch)
	}
	for b, n := range t.Lengths {
		if n < 1 || n > t.Seq {
			return fmt.Errorf("row %d length %d outside [1, %d]", b, n, t.Seq)
		}
	}
	return nil
}

// Shape returns (batch, seq, hidden).
func (t *Tensor) Shape() []int {
	return []int{t.Batch, t.Seq, t.Hidden}
}
