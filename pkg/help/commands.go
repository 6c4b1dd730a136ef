package help

import "strings"

// Category groups commands in help output.
type Category string

const (
	CategorySteering Category = "steering"
	CategoryVectors  Category = "vectors"
	CategoryDatasets Category = "datasets"
	CategoryGeneral  Category = "general"
)

// CategoryOrder is the order categories appear in RenderFull.
var CategoryOrder = []Category{
	CategorySteering,
	CategoryVectors,
	CategoryDatasets,
	CategoryGeneral,
}

var categoryNames = map[Category]string{
	CategorySteering: "Steering",
	CategoryVectors:  "Control Vectors",
	CategoryDatasets: "Datasets",
	CategoryGeneral:  "General",
}

// DisplayName returns the heading shown for the category.
func (c Category) DisplayName() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return string(c)
}

// Command is the help metadata for one shell command.
type Command struct {
	Name        string // with leading slash
	Shortcut    string
	Category    Category
	Description string
	Usage       string
	Examples    []Example
}

// Example is a sample invocation.
type Example struct {
	Command     string
	Description string
}

// Commands documents every shell command.
var Commands = []Command{
	{
		Name:        "/use",
		Category:    CategorySteering,
		Description: "Steer completions with a trained vector",
		Usage:       "/use <vector> [strength]",
		Examples: []Example{
			{Command: "/use honest", Description: "Steer toward the positive trait at strength 1"},
			{Command: "/use honest -1.5", Description: "Push toward the negative trait"},
		},
	},
	{
		Name:        "/strength",
		Category:    CategorySteering,
		Description: "Show or set the steering coefficient",
		Usage:       "/strength [coefficient]",
		Examples: []Example{
			{Command: "/strength 2", Description: "Double the applied direction"},
		},
	},
	{
		Name:        "/reset",
		Category:    CategorySteering,
		Description: "Turn steering off",
		Usage:       "/reset",
	},
	{
		Name:        "/train",
		Category:    CategoryVectors,
		Description: "Train a vector from a dataset name or path",
		Usage:       "/train <name> <dataset> [positive negative]",
		Examples: []Example{
			{Command: "/train honest honesty", Description: "Train from a saved dataset"},
			{Command: "/train calm data/calm.jsonl calm angry", Description: "Train from a file and label the traits"},
		},
	},
	{
		Name:        "/vectors",
		Category:    CategoryVectors,
		Description: "List trained vectors for the loaded model",
		Usage:       "/vectors",
	},
	{
		Name:        "/delete",
		Category:    CategoryVectors,
		Description: "Delete a vector and its file",
		Usage:       "/delete <vector>",
	},
	{
		Name:        "/dataset",
		Category:    CategoryDatasets,
		Description: "Build a dataset from the default scaffolds",
		Usage:       "/dataset <name> <positive> <negative>",
		Examples: []Example{
			{Command: "/dataset honesty honest dishonest", Description: "Pair every scaffold with both traits"},
		},
	},
	{
		Name:        "/datasets",
		Category:    CategoryDatasets,
		Description: "List saved datasets",
		Usage:       "/datasets",
	},
	{
		Name:        "/help",
		Shortcut:    "/h",
		Category:    CategoryGeneral,
		Description: "Show this help message",
		Usage:       "/help [command]",
		Examples: []Example{
			{Command: "/help train", Description: "Show detailed /train help"},
		},
	},
	{
		Name:        "/quit",
		Shortcut:    "/q",
		Category:    CategoryGeneral,
		Description: "Exit palinor",
		Usage:       "/quit",
	},
}

// CommandsByCategory returns the commands in cat, in registry order.
func CommandsByCategory(cat Category) []Command {
	var out []Command
	for _, cmd := range Commands {
		if cmd.Category == cat {
			out = append(out, cmd)
		}
	}
	return out
}

// Lookup finds a command by name or shortcut, with or without the slash.
func Lookup(name string) (Command, bool) {
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	for _, cmd := range Commands {
		if cmd.Name == name || cmd.Shortcut == name {
			return cmd, true
		}
	}
	return Command{}, false
}
