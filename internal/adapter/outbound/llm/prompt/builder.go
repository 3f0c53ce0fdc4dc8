package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Builder renders prompts for the alert explainer.
type Builder struct {
	templates *template.Template
}

// NewBuilder parses all embedded templates and returns a Builder.
func NewBuilder() (*Builder, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	return &Builder{templates: tmpl}, nil
}

// ExplainInput holds data for the explain prompt template.
type ExplainInput struct {
	AlertType string
	Severity  string
	Title     string
	Evidence  map[string]any
}

type evidenceLine struct {
	Key   string
	Value string
}

type explainData struct {
	AlertType string
	Severity  string
	Title     string
	Evidence  []evidenceLine
	Guidance  string
}

// guidance nudges the model towards the response an operator expects for
// each alert type.
var guidance = map[string]string{
	"honeytoken_breach": "A decoy value that no legitimate workflow reads was accessed. Treat it as a likely breach.",
	"export_anomaly":    "Compare the export volume with the baseline; large exports to unusual destinations suggest exfiltration.",
	"config_drift":      "Unreviewed edits to sensitive files may indicate tampering; say whether rolling back is advisable.",
	"login_anomaly":     "Consider credential stuffing, account takeover and unusual working patterns.",
}

// BuildExplainPrompt renders the explain template. Evidence keys are sorted so
// the prompt is stable for the same input.
func (b *Builder) BuildExplainPrompt(input ExplainInput) (string, error) {
	keys := make([]string, 0, len(input.Evidence))
	for k := range input.Evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]evidenceLine, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, evidenceLine{Key: k, Value: formatValue(input.Evidence[k])})
	}

	var buf bytes.Buffer
	err := b.templates.ExecuteTemplate(&buf, "explain.tmpl", explainData{
		AlertType: input.AlertType,
		Severity:  input.Severity,
		Title:     input.Title,
		Evidence:  lines,
		Guidance:  guidance[input.AlertType],
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any, []any, []map[string]any:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", t)
	}
}
