package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Fleet Alert {{.EventLabel}}] {{.Title}}
Device: {{.Serial}}
{{- if .Station }}
Station: {{.Station}}
{{- end }}
Severity: {{.Severity}}
Detail: {{.Message}}
Observed: {{.ObservedAt}}
Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Title      string
	Serial     string
	Station    string
	StationID  int64
	Rule       string
	Severity   string
	Message    string
	ObservedAt string
	Suggestion string
	Event      string
	EventLabel string
	PassID     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("fleet-alert").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
