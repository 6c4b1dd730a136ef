// Package errors provides a suggestions registry for error remediation.
package errors

import "strings"

// Suggestion represents a remediation hint with optional conditions.
type Suggestion struct {
	// Text is the suggestion message displayed to the user.
	Text string

	// Conditions are key-value pairs that must all match the error context.
	// If empty, the suggestion applies to all contexts.
	Conditions map[string]string
}

// Matches returns true if this suggestion's conditions match the given context.
func (s *Suggestion) Matches(ctx map[string]string) bool {
	for key, value := range s.Conditions {
		if ctx[key] != value {
			return false
		}
	}
	return true
}

// Registry maps error codes to their remediation suggestions.
type Registry struct {
	suggestions map[string][]Suggestion
}

// NewRegistry creates a new suggestion registry.
func NewRegistry() *Registry {
	return &Registry{suggestions: make(map[string][]Suggestion)}
}

// Register adds a suggestion for an error code.
func (r *Registry) Register(code, text string) *Registry {
	r.suggestions[code] = append(r.suggestions[code], Suggestion{Text: text})
	return r
}

// RegisterWithCondition adds a suggestion that only applies when the context matches.
func (r *Registry) RegisterWithCondition(code, text string, conditions map[string]string) *Registry {
	r.suggestions[code] = append(r.suggestions[code], Suggestion{Text: text, Conditions: conditions})
	return r
}

// Get returns the suggestions for code that match ctx, in registration order.
func (r *Registry) Get(code string, ctx map[string]string) []string {
	var result []string
	for _, s := range r.suggestions[code] {
		if s.Matches(ctx) {
			result = append(result, s.Text)
		}
	}
	return result
}

// HasSuggestions returns true if any suggestions exist for the error code.
func (r *Registry) HasSuggestions(code string) bool {
	return len(r.suggestions[code]) > 0
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the global default registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

func init() {
	defaultRegistry.
		Register(ErrConfigNotFound, "Run 'palinor init' to create a default config file").
		Register(ErrConfigNotFound, "Pass --config with the path to an existing palinor.yaml").
		Register(ErrConfigParseFailed, "Check the YAML syntax (indentation, colons, quoting)").
		Register(ErrConfigInvalid, "Compare your file against the output of 'palinor init'").
		Register(ErrLayerInvalid, "Use an index in [0, layers) or a negative offset such as -1 for the last block").
		Register(ErrLayerDuplicate, "Remove layer ids that point at the same block (e.g. -1 and layers-1)").
		Register(ErrDatasetEmpty, "Add at least one positive/negative prompt pair to the dataset").
		Register(ErrVectorDimMismatch, "Train the vector against the same model it is applied to").
		Register(ErrDirectionDegenerate, "Make sure positive and negative prompts actually differ in the trait words").
		Register(ErrDeviceOutOfMemory, "Lower training.max_batch_size").
		Register(ErrDeviceOutOfMemory, "Shorten the prompts in the dataset").
		Register(ErrVectorCorrupt, "Re-train the vector; the file failed to decode or its checksum did not match").
		Register(ErrVectorVersionUnsupported, "Re-train the vector with this version of palinor").
		Register(ErrVectorUntrained, "Train the vector before saving or applying it").
		Register(ErrSteeringHooksMissing, "Call /reset (or Reset) and apply the vector again").
		Register(ErrSteeringClosed, "Create a new controller for the model").
		Register(ErrDatasetInvalid, "Each line must be {\"positive\": ..., \"negative\": ...} or {\"a\": [...], \"b\": [...]}").
		Register(ErrCommandNotFound, "Type /help to see available commands").
		Register(ErrVectorNotFound, "Run 'palinor vectors' to list trained vectors for this model")
}

// AttachSuggestions adds suggestions from the default registry to err.
func AttachSuggestions(err *PalinorError) *PalinorError {
	if err == nil {
		return nil
	}
	if s := defaultRegistry.Get(err.Code, err.Context); len(s) > 0 {
		err.Suggestions = append(err.Suggestions, s...)
	}
	return err
}

// FormatSuggestionList formats a list of suggestions for display.
func FormatSuggestionList(suggestions []string) string {
	var sb strings.Builder
	for i, s := range suggestions {
		sb.WriteString("→ ")
		sb.WriteString(s)
		if i < len(suggestions)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
