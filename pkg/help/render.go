package help

import "strings"

const (
	// commandColumnWidth fits "/strength" and "/help (or /h)" with room to spare.
	commandColumnWidth = 18

	indentCategory = "  "
	indentCommand  = "    "
	indentExample  = "      "

	maxInlineExamples = 2
)

// RenderFull renders every category followed by the tips section.
func (r *Renderer) RenderFull() {
	r.writeln("")
	r.writeln(Header(indentCategory + "palinor Commands"))
	r.writeln("")

	for _, cat := range CategoryOrder {
		r.renderCategory(cat)
	}
	r.renderTips()
}

// RenderCommand renders usage and examples for one command. It returns false
// when name is unknown.
func (r *Renderer) RenderCommand(name string) bool {
	cmd, ok := Lookup(name)
	if !ok {
		r.writeln(indentCategory + "Command '" + name + "' not found. Use /help to see all commands.")
		return false
	}

	r.writeln("")
	r.writeln(indentCategory + CommandWithShortcut(cmd.Name, cmd.Shortcut))
	r.writeln(indentCategory + Dim(cmd.Description))
	r.writeln("")
	r.writeln(indentCategory + Bold("Usage:") + " " + StyleExample(cmd.Usage))
	r.writeln("")

	if len(cmd.Examples) > 0 {
		r.writeln(indentCategory + Bold("Examples:"))
		for _, ex := range cmd.Examples {
			r.writeln(indentCommand + ExampleLine(ex.Command, ex.Description))
		}
		r.writeln("")
	}
	return true
}

func (r *Renderer) renderCategory(cat Category) {
	cmds := CommandsByCategory(cat)
	if len(cmds) == 0 {
		return
	}

	r.writeln(indentCategory + StyleCategory(cat.DisplayName()))
	r.writeln(indentCategory + Dim(separator()))
	for _, cmd := range cmds {
		r.renderCommandLine(cmd)
	}
	r.writeln("")
}

// renderCommandLine writes "│ /cmd   description" plus inline examples.
func (r *Renderer) renderCommandLine(cmd Command) {
	name := PadRight(CommandWithShortcut(cmd.Name, cmd.Shortcut), commandColumnWidth)
	r.writeln(indentCommand + Dim(BoxVertical+" ") + name + Dim(cmd.Description))

	for i, ex := range cmd.Examples {
		if i == maxInlineExamples {
			break
		}
		r.writeln(indentExample + Dim(BoxVertical+"   e.g. ") + HighlightExample(ex.Command))
	}
}

func (r *Renderer) renderTips() {
	r.writeln(indentCategory + StyleCategory("Tips"))
	r.writeln(indentCategory + Dim(separator()))
	r.writeln(indentCommand + Dim(BoxVertical+" ") + Dim("Text:    ") +
		StyleExample("any other line") + Dim(" is completed by the model"))
	r.writeln(indentCommand + Dim(BoxVertical+" ") + Dim("Keys:    ") +
		Shortcut("Tab") + Dim(" complete  ") +
		Shortcut("Ctrl+D") + Dim(" exit  ") +
		Shortcut("↑↓") + Dim(" history"))
	r.writeln("")
}

func separator() string {
	return BoxTeeLeft + strings.Repeat(BoxHorizontal, commandColumnWidth+34)
}
