package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	perrors "github.com/r3d91ll/palinor/pkg/errors"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// record accepts both line forms: {"positive", "negative"} and the chat form
// {"a": [messages], "b": [messages]}.
type record struct {
	Positive *string       `json:"positive"`
	Negative *string       `json:"negative"`
	A        []chatMessage `json:"a"`
	B        []chatMessage `json:"b"`
}

// flatten renders chat messages as "role: content" lines.
func flatten(msgs []chatMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "" {
			lines = append(lines, m.Content)
			continue
		}
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// ReadJSONL parses one pair per non-blank line.
func ReadJSONL(r io.Reader) (Slice, error) {
	var out Slice
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, perrors.ValidationWrap(err, perrors.ErrDatasetInvalid, "malformed dataset line").
				WithContext("line", strconv.Itoa(line))
		}

		var pair PromptPair
		switch {
		case rec.Positive != nil && rec.Negative != nil:
			pair = PromptPair{Positive: *rec.Positive, Negative: *rec.Negative}
		case len(rec.A) > 0 && len(rec.B) > 0:
			pair = PromptPair{Positive: flatten(rec.A), Negative: flatten(rec.B)}
		default:
			return nil, perrors.Validation(perrors.ErrDatasetInvalid,
				"dataset line needs positive/negative or a/b fields").
				WithContext("line", strconv.Itoa(line))
		}
		out = append(out, pair)
	}
	if err := sc.Err(); err != nil {
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to read dataset")
	}
	if len(out) == 0 {
		return nil, perrors.Config(perrors.ErrDatasetEmpty, "dataset has no prompt pairs")
	}
	return out, nil
}

// LoadJSONL reads a dataset file.
func LoadJSONL(path string) (Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to open dataset").
			WithContext("path", path)
	}
	defer f.Close()

	pairs, err := ReadJSONL(f)
	if err != nil {
		if perr, ok := perrors.AsPalinorError(err); ok {
			perr.WithContext("path", path)
		}
		return nil, err
	}
	return pairs, nil
}

// SaveJSONL writes pairs in the positive/negative form, creating parent directories.
func SaveJSONL(path string, pairs Slice) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, p := range pairs {
		if err := enc.Encode(p); err != nil {
			return perrors.InternalWrap(err, perrors.ErrInternal, "failed to encode prompt pair")
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return perrors.IOWrap(err, perrors.ErrIOWriteFailed, "failed to create dataset directory").
			WithContext("path", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return perrors.IOWrap(err, perrors.ErrIOWriteFailed, "failed to write dataset").
			WithContext("path", path)
	}
	return nil
}

// List returns the dataset names (file stems) under dir, sorted. A missing
// directory yields no names.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perrors.IOWrap(err, perrors.ErrIOReadFailed, "failed to list datasets").
			WithContext("dir", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	return names, nil
}
