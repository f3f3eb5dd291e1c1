package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alarm {{.Level}}] {{.Scenario}} ({{.ScenarioID}})
{{.Message}}
Action: {{.Action}}{{ if .Target }} -> {{.Target}}{{ end }}{{ if .Method }} via {{.Method}}{{ end }}
Time: {{.Time}}
{{- if .Values }}
Values: {{.Values}}
{{- end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	ScenarioID string
	Scenario   string
	Level      string
	Message    string
	Action     string
	Target     string
	Method     string
	Time       string
	Values     string
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
	parsed, err := template.New("alarm-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
