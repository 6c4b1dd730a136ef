package help

import "strings"

// Header styles a section title.
func Header(text string) string {
	return ColorBold + ColorCyan + text + ColorReset
}

// StyleCategory styles a category heading.
func StyleCategory(text string) string {
	return ColorBold + ColorGreen + text + ColorReset
}

// StyleCommand styles a command name.
func StyleCommand(text string) string {
	return ColorCyan + text + ColorReset
}

// StyleExample styles example text and usage lines.
func StyleExample(text string) string {
	return ColorYellow + text + ColorReset
}

// Shortcut styles a command alias.
func Shortcut(text string) string {
	return ColorBold + ColorYellow + text + ColorReset
}

func Dim(text string) string {
	return ColorGray + text + ColorReset
}

func Bold(text string) string {
	return ColorBold + text + ColorReset
}

// CommandWithShortcut renders "/help (or /h)".
func CommandWithShortcut(cmd, shortcut string) string {
	if shortcut == "" {
		return StyleCommand(cmd)
	}
	return StyleCommand(cmd) + Dim(" (or ") + Shortcut(shortcut) + Dim(")")
}

// HighlightExample colors the command word cyan and its arguments yellow.
func HighlightExample(line string) string {
	name, rest, found := strings.Cut(line, " ")
	if !found {
		return StyleCommand(name)
	}
	return StyleCommand(name) + " " + StyleExample(rest)
}

// ExampleLine renders an example with an optional trailing description.
func ExampleLine(line, description string) string {
	if description == "" {
		return HighlightExample(line)
	}
	return HighlightExample(line) + Dim(" -> "+description)
}
