// ABOUTME: Multilingual prompt templates for the research workflow stages
// ABOUTME: Renders embedded text/template files per language and stage

package prompts

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates
var templateFS embed.FS

// Template names, one per workflow stage that calls the generation gateway.
const (
	Clarify    = "clarify"
	Brief      = "brief"
	Plan       = "plan"
	Research   = "research"
	Synthesize = "synthesize"
)

// ProceedMarker is the token the clarification prompt asks the model to emit
// when the question is well-formed enough to research directly.
const ProceedMarker = "PROCEED_TO_RESEARCH"

// Data carries the values a stage template may reference. Each template uses
// the subset that applies to its stage.
type Data struct {
	Question    string
	Goal        string
	Brief       string
	Description string
	Summaries   string
	MaxTasks    int
}

var templates = map[string]*template.Template{}

func init() {
	for _, lang := range []string{"en", "ko"} {
		for _, name := range []string{Clarify, Brief, Plan, Research, Synthesize} {
			path := fmt.Sprintf("templates/%s/%s.tmpl", lang, name)
			key := lang + "/" + name
			templates[key] = template.Must(template.ParseFS(templateFS, path)).Lookup(name + ".tmpl")
		}
	}
}

// Render produces the prompt for the given stage template and language.
// Unsupported languages fall back to English.
func Render(name, lang string, data Data) (string, error) {
	tmpl, ok := templates[lang+"/"+name]
	if !ok {
		tmpl, ok = templates["en/"+name]
		if !ok {
			return "", fmt.Errorf("unknown prompt template %q", name)
		}
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt %s/%s: %w", lang, name, err)
	}
	return buf.String(), nil
}
