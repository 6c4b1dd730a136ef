package shell

import (
	"sort"
	"strings"

	"github.com/chzyer/readline"
)

// commands is the static list of shell commands, without the / prefix.
var commands = []string{
	"quit",
	"exit",
	"q",
	"help",
	"h",
	"train",
	"dataset",
	"datasets",
	"vectors",
	"use",
	"strength",
	"reset",
	"delete",
}

// argKind says what the n-th argument of a command names.
type argKind int

const (
	argNone argKind = iota
	argVector
	argDataset
)

// commandArgs maps a command to the kind of each positional argument.
var commandArgs = map[string][]argKind{
	"use":    {argVector},
	"delete": {argVector},
	"train":  {argNone, argDataset},
}

// Completer provides tab completion for commands, vector names and dataset names.
type Completer struct {
	vectors  func() []string
	datasets func() []string
}

// NewCompleter creates a completer. Either source may be nil.
func NewCompleter(vectors, datasets func() []string) *Completer {
	return &Completer{vectors: vectors, datasets: datasets}
}

var _ readline.AutoCompleter = (*Completer)(nil)

// Do implements readline.AutoCompleter. It returns the suffixes that complete
// the word under the cursor and the length of that word.
func (c *Completer) Do(line []rune, pos int) (newLine [][]rune, length int) {
	if len(line) == 0 || pos <= 0 {
		return nil, 0
	}
	if pos > len(line) {
		pos = len(line)
	}

	text := string(line[:pos])
	start := findWordStart(text)
	word := text[start:]

	fields := strings.Fields(text[:start])
	if len(fields) == 0 {
		if strings.HasPrefix(word, "/") {
			return complete(word, strings.TrimPrefix(word, "/"), commands)
		}
		return nil, 0
	}

	cmd := strings.TrimPrefix(fields[0], "/")
	if !strings.HasPrefix(fields[0], "/") {
		return nil, 0
	}
	kinds := commandArgs[cmd]
	argIdx := len(fields) - 1
	if argIdx >= len(kinds) {
		return nil, 0
	}

	switch kinds[argIdx] {
	case argVector:
		return complete(word, word, call(c.vectors))
	case argDataset:
		return complete(word, word, call(c.datasets))
	}
	return nil, 0
}

// findWordStart returns the index after the last space or tab in s.
func findWordStart(s string) int {
	return strings.LastIndexAny(s, " \t") + 1
}

func call(f func() []string) []string {
	if f == nil {
		return nil
	}
	return f()
}

// complete matches prefix against candidates and returns sorted suffixes,
// each followed by a space, with the length of word.
func complete(word, prefix string, candidates []string) ([][]rune, int) {
	var names []string
	for _, cand := range candidates {
		if strings.HasPrefix(cand, prefix) {
			names = append(names, cand)
		}
	}
	sort.Strings(names)

	var matches [][]rune
	for _, n := range names {
		matches = append(matches, []rune(n[len(prefix):]+" "))
	}
	return matches, len([]rune(word))
}
