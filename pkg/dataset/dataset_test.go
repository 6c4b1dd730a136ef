package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
)

// -----------------------------------------------------------------------------
// Iterator Tests
// -----------------------------------------------------------------------------

func TestSlice_PairsIsRestartable(t *testing.T) {
	ds := Slice{{"a+", "a-"}, {"b+", "b-"}}

	for round := 0; round < 2; round++ {
		var got []string
		it := ds.Pairs()
		for it.Next() {
			got = append(got, it.Pair().Positive)
		}
		if err := it.Err(); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if strings.Join(got, ",") != "a+,b+" {
			t.Errorf("round %d: got %v", round, got)
		}
	}
}

func TestSlice_PairOutOfRange(t *testing.T) {
	it := Slice{}.Pairs()
	if it.Next() {
		t.Fatal("empty slice yielded a pair")
	}
	if it.Pair() != (PromptPair{}) {
		t.Error("expected zero pair after exhaustion")
	}
}

func TestCollect_CopiesSlice(t *testing.T) {
	src := Slice{{"x", "y"}}
	got, err := Collect(src)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got[0].Positive = "changed"
	if src[0].Positive != "x" {
		t.Error("Collect aliased its input")
	}
}

// -----------------------------------------------------------------------------
// Contrast Tests
// -----------------------------------------------------------------------------

func TestContrast(t *testing.T) {
	pairs, err := Contrast([]string{
		"You are {trait}. Say hi.",
		"   ",
		"A {trait} and {trait} day",
	}, "happy", "sad")
	if err != nil {
		t.Fatalf("Contrast: %v", err)
	}
	if pairs.Len() != 2 {
		t.Fatalf("got %d pairs, want 2", pairs.Len())
	}
	if pairs[0].Positive != "You are happy. Say hi." || pairs[0].Negative != "You are sad. Say hi." {
		t.Errorf("unexpected pair %+v", pairs[0])
	}
	if pairs[1].Negative != "A sad and sad day" {
		t.Errorf("marker not replaced everywhere: %q", pairs[1].Negative)
	}
}

func TestContrast_Errors(t *testing.T) {
	tests := []struct {
		name      string
		scaffolds []string
		pos, neg  string
		code      string
	}{
		{"missing marker", []string{"no marker here"}, "good", "evil", perrors.ErrDatasetInvalid},
		{"no scaffolds", nil, "good", "evil", perrors.ErrDatasetEmpty},
		{"empty trait", []string{"{trait}"}, "", "evil", perrors.ErrValidationRequired},
		{"same trait", []string{"{trait}"}, "good", "good", perrors.ErrValidationInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Contrast(tt.scaffolds, tt.pos, tt.neg)
			if !perrors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestDefaultScaffoldsHaveMarker(t *testing.T) {
	if _, err := Contrast(DefaultScaffolds, "good", "evil"); err != nil {
		t.Errorf("default scaffolds rejected: %v", err)
	}
}

// -----------------------------------------------------------------------------
// JSONL Tests
// -----------------------------------------------------------------------------

func TestReadJSONL_BothForms(t *testing.T) {
	input := `{"positive": "be kind", "negative": "be cruel"}

{"a": [{"role": "system", "content": "You are good."}, {"role": "user", "content": "Hi"}], "b": [{"role": "system", "content": "You are evil."}, {"role": "user", "content": "Hi"}]}
`
	pairs, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL: %v", err)
	}
	if pairs.Len() != 2 {
		t.Fatalf("got %d pairs, want 2", pairs.Len())
	}
	if pairs[0].Positive != "be kind" {
		t.Errorf("pair 0: %+v", pairs[0])
	}
	if pairs[1].Positive != "system: You are good.\nuser: Hi" {
		t.Errorf("chat form flattened to %q", pairs[1].Positive)
	}
	if pairs[1].Negative != "system: You are evil.\nuser: Hi" {
		t.Errorf("chat form flattened to %q", pairs[1].Negative)
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
	}{
		{"empty", "\n\n", perrors.ErrDatasetEmpty},
		{"malformed", "{not json}\n", perrors.ErrDatasetInvalid},
		{"missing fields", `{"positive": "only one side"}` + "\n", perrors.ErrDatasetInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.input))
			if !perrors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestReadJSONL_ErrorHasLine(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader(`{"positive": "a", "negative": "b"}` + "\n[1]\n"))
	perr, ok := perrors.AsPalinorError(err)
	if !ok {
		t.Fatalf("expected *PalinorError, got %T", err)
	}
	if perr.Context["line"] != "2" {
		t.Errorf("context %v, want line 2", perr.Context)
	}
}

func TestSaveAndLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traits.jsonl")
	want := Slice{{"<b>good</b>", "<b>evil</b>"}, {"line\nbreak", "tab\there"}}

	if err := SaveJSONL(path, want); err != nil {
		t.Fatalf("SaveJSONL: %v", err)
	}
	got, err := LoadJSONL(path)
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d pairs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pair %d: got %+v, want %+v", i, got[i], want[i])
		}
	}

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), `\u003c`) {
		t.Error("HTML characters should not be escaped")
	}
	if !strings.Contains(string(raw), `<b>good</b>`) {
		t.Errorf("file does not keep markup literally:\n%s", raw)
	}
}

func TestLoadJSONL_Missing(t *testing.T) {
	_, err := LoadJSONL(filepath.Join(t.TempDir(), "nope.jsonl"))
	if !perrors.IsCategory(err, perrors.CategoryIO) {
		t.Errorf("expected io error, got %v", err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	_ = SaveJSONL(filepath.Join(dir, "b.jsonl"), Slice{{"x", "y"}})
	_ = SaveJSONL(filepath.Join(dir, "a.jsonl"), Slice{{"x", "y"}})
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644)

	names, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Errorf("List = %v", names)
	}

	none, err := List(filepath.Join(dir, "missing"))
	if err != nil || len(none) != 0 {
		t.Errorf("missing dir: %v, %v", none, err)
	}
}
