package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Templates (W100-W199)

	"W101": {
		Category:   CategoryTemplate,
		Message:    "Template syntax error",
		Detail:     "The template markup is malformed or uses a directive incorrectly.",
		Suggestion: "Check the directive on the highlighted line",
	},
	"W102": {
		Category:   CategoryTemplate,
		Message:    "Template not found",
		Detail:     "A t-call or component definition names a template that is not registered.",
		Suggestion: "Register the template or fix the name",
	},
	"W103": {
		Category: CategoryTemplate,
		Message:  "Expression evaluation failed",
		Detail:   "An expression in a directive could not be evaluated against the current scope.",
	},

	// Reconciliation (W200-W299)

	"W201": {
		Category:   CategoryReconcile,
		Message:    "Reconciliation failed",
		Detail:     "The rendered tree could not be applied to the surface. Sibling keys must be unique.",
		Suggestion: "Make t-key values unique within each t-foreach",
	},

	// Rendering (W300-W399)

	"W301": {
		Category: CategoryRender,
		Message:  "Render failed",
		Detail:   "A component's setup or render routine failed. Nothing was applied to the surface.",
	},

	// Configuration (W400-W499)

	"W401": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration",
		Suggestion: "Check weft.json or weft.yaml",
	},
	"W402": {
		Category:   CategoryConfig,
		Message:    "Configuration not found",
		Suggestion: "Create weft.json or pass --config",
	},
	"W403": {
		Category: CategoryConfig,
		Message:  "Data file could not be read",
		Detail:   "Render data must be a JSON or YAML object.",
	},

	// Command line (W500-W599)

	"W501": {
		Category: CategoryCLI,
		Message:  "Command failed",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces an error template.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
