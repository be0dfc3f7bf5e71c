package notify

import (
	"bytes"
	"errors"
	"strconv"
	"text/template"
	"time"
)

const DefaultTemplate = `[Temperature Alert]
Device: {{.DeviceName}}
Key: {{.Key}}
Measured: {{.Measured}}
Threshold: {{.Threshold}}
Time: {{.When}}
{{ if .Recipient }}
This alert was sent to {{.Recipient}} because the device belongs to your organisation.
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Recipient  string
	DeviceID   string
	DeviceName string
	Key        string
	Measured   string
	Threshold  string
	When       string
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
	parsed, err := template.New("alert-notification").Parse(tpl)
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

func templateData(alert TemperatureAlert) TemplateData {
	name := alert.DeviceName
	if name == "" {
		name = alert.DeviceID
	}
	return TemplateData{
		Recipient:  alert.Email,
		DeviceID:   alert.DeviceID,
		DeviceName: name,
		Key:        alert.Key,
		Measured:   formatFloat(alert.Measured),
		Threshold:  formatFloat(alert.Threshold),
		When:       alert.When.UTC().Format(time.RFC3339),
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
