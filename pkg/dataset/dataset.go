// Package dataset supplies contrastive prompt pairs for vector training.
package dataset

import (
	"strings"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
)

// TraitMarker is replaced by the trait word when building pairs from scaffolds.
const TraitMarker = "{trait}"

// PromptPair is one contrastive example: two prompts sharing a scaffold and
// differing only in the trait-bearing words.
type PromptPair struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
}

// Iterator walks a dataset in order.
type Iterator interface {
	// Next advances to the next pair and reports whether one exists.
	Next() bool
	// Pair returns the current pair.
	Pair() PromptPair
	// Err returns the error that stopped iteration, if any.
	Err() error
}

// Dataset is a finite, ordered, restartable source of pairs. Every call to
// Pairs starts from the first pair.
type Dataset interface {
	Pairs() Iterator
}

// Slice is an in-memory Dataset.
type Slice []PromptPair

// Pairs returns an iterator over a snapshot of s.
func (s Slice) Pairs() Iterator {
	return &sliceIterator{pairs: s, pos: -1}
}

// Len returns the number of pairs.
func (s Slice) Len() int { return len(s) }

type sliceIterator struct {
	pairs []PromptPair
	pos   int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.pairs) {
		it.pos = len(it.pairs)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Pair() PromptPair {
	if it.pos < 0 || it.pos >= len(it.pairs) {
		return PromptPair{}
	}
	return it.pairs[it.pos]
}

func (it *sliceIterator) Err() error { return nil }

// Collect drains ds into a Slice.
func Collect(ds Dataset) (Slice, error) {
	if s, ok := ds.(Slice); ok {
		return append(Slice(nil), s...), nil
	}
	var out Slice
	it := ds.Pairs()
	for it.Next() {
		out = append(out, it.Pair())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Contrast builds one pair per scaffold by replacing every TraitMarker with
// positive and negative. Blank scaffolds are skipped. A scaffold without the
// marker would yield identical prompts and is rejected.
func Contrast(scaffolds []string, positive, negative string) (Slice, error) {
	if strings.TrimSpace(positive) == "" || strings.TrimSpace(negative) == "" {
		return nil, perrors.Validation(perrors.ErrValidationRequired, "both traits must be non-empty")
	}
	if positive == negative {
		return nil, perrors.Validationf(perrors.ErrValidationInvalidValue,
			"positive and negative traits are both %q", positive)
	}

	var out Slice
	for i, s := range scaffolds {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, TraitMarker) {
			return nil, perrors.Validationf(perrors.ErrDatasetInvalid,
				"scaffold %d has no %s marker: %q", i+1, TraitMarker, s)
		}
		out = append(out, PromptPair{
			Positive: strings.ReplaceAll(s, TraitMarker, positive),
			Negative: strings.ReplaceAll(s, TraitMarker, negative),
		})
	}
	if len(out) == 0 {
		return nil, perrors.Config(perrors.ErrDatasetEmpty, "no scaffolds given")
	}
	return out, nil
}

// DefaultScaffolds is used when no scaffold file is given.
var DefaultScaffolds = []string{
	"Act as if you are extremely {trait}. Tell me about your day.",
	"Pretend you are a {trait} person. What do you think of your neighbours?",
	"You are {trait}. Describe the city you live in.",
	"Speaking as someone {trait}, what would you do with a lost wallet?",
	"You are a {trait} storyteller. Once upon a time",
	"As a {trait} assistant, give me advice about my job.",
	"Imagine you are {trait}. How do you greet a stranger?",
	"Answer like a {trait} character would: what is your favourite food?",
}
