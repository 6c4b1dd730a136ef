// Package help renders the palinor shell's /help output.
//
// Commands are grouped by category under a box-drawn separator, each with a
// one-line description and up to two inline examples:
//
//	r := help.NewRenderer(os.Stdout, true)
//	r.RenderFull()           // every category
//	r.RenderCommand("train") // usage and examples for /train
//
// With color disabled the same layout is written without ANSI escapes.
package help

import (
	"fmt"
	"io"
	"strings"
)

// Box drawing characters.
const (
	BoxHorizontal = "─"
	BoxVertical   = "│"
	BoxTeeLeft    = "├"
)

// ANSI color codes.
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorGray   = "\033[90m"
)

// Renderer formats and writes help output.
type Renderer struct {
	w     io.Writer
	color bool
}

// NewRenderer creates a help renderer that writes to w. When color is false
// escape codes are stripped from every line.
func NewRenderer(w io.Writer, color bool) *Renderer {
	return &Renderer{w: w, color: color}
}

func (r *Renderer) writeln(s string) {
	if !r.color {
		s = StripANSI(s)
	}
	fmt.Fprintln(r.w, s)
}

// StripANSI removes SGR escape sequences from s.
func StripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, c := range s {
		if c == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if c == 'm' {
				inEscape = false
			}
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// visibleLength counts runes outside escape sequences.
func visibleLength(s string) int {
	return len([]rune(StripANSI(s)))
}

// PadRight pads s with spaces to width visible columns.
func PadRight(s string, width int) string {
	n := visibleLength(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
