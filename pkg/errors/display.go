// Package errors provides error formatting and display functions.
package errors

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[90m"
	colorBold   = "\033[1m"
)

// Formatter handles error display with optional color support.
type Formatter struct {
	// UseColor enables ANSI color codes in output.
	UseColor bool

	// Writer is the output destination. Defaults to os.Stderr.
	Writer io.Writer

	// Indent is the prefix for context and suggestion lines.
	Indent string
}

// DefaultFormatter returns a Formatter for stderr, colored when stderr is a terminal.
func DefaultFormatter() *Formatter {
	return &Formatter{
		UseColor: term.IsTerminal(int(os.Stderr.Fd())),
		Writer:   os.Stderr,
		Indent:   "  ",
	}
}

// Format renders an error. PalinorErrors get code, context, cause and suggestions.
func (f *Formatter) Format(err error) string {
	if err == nil {
		return ""
	}
	pe, ok := AsPalinorError(err)
	if !ok {
		return f.paint(colorRed, "Error: ") + err.Error()
	}

	var sb strings.Builder
	sb.WriteString(f.paint(colorRed+colorBold, "ERROR"))
	sb.WriteString(f.paint(colorRed, " ["+pe.Code+"]: "))
	sb.WriteString(pe.Message)
	sb.WriteString("\n")

	keys := make([]string, 0, len(pe.Context))
	for k := range pe.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(f.Indent)
		sb.WriteString(f.paint(colorYellow, k+": "))
		sb.WriteString(pe.Context[k])
		sb.WriteString("\n")
	}

	if pe.Cause != nil {
		sb.WriteString(f.Indent)
		sb.WriteString(f.paint(colorDim, "cause: "+pe.Cause.Error()))
		sb.WriteString("\n")
	}

	if pe.HasSuggestions() {
		if pe.HasContext() || pe.Cause != nil {
			sb.WriteString("\n")
		}
		for i, s := range pe.Suggestions {
			sb.WriteString(f.Indent)
			sb.WriteString(f.paint(colorCyan, "→ "+s))
			if i < len(pe.Suggestions)-1 {
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) paint(color, s string) string {
	if !f.UseColor {
		return s
	}
	return color + s + colorReset
}

// Display writes a formatted error to the formatter's writer.
func (f *Formatter) Display(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(f.Writer, f.Format(err))
}

// Display writes a formatted error to stderr with default settings.
func Display(err error) {
	DefaultFormatter().Display(err)
}

// Sprint returns a formatted error string without colors.
func Sprint(err error) string {
	f := &Formatter{Writer: io.Discard, Indent: "  "}
	return f.Format(err)
}

// CategoryLabel returns a human-readable label for an error category.
func CategoryLabel(cat Category) string {
	switch cat {
	case CategoryConfig:
		return "Configuration Error"
	case CategoryDevice:
		return "Device Error"
	case CategorySerialization:
		return "Serialization Error"
	case CategoryState:
		return "State Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryCommand:
		return "Command Error"
	case CategoryIO:
		return "I/O Error"
	case CategoryInternal:
		return "Internal Error"
	default:
		return "Error"
	}
}
