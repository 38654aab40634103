package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	alerts "terrarium-cloud/internal/alerts/domain"
)

const DefaultSubjectTemplate = `{{if .Critical}}CRITICAL ALERT: {{.Type}} issue in {{.Ecosystem}} terrarium{{else}}Warning: {{.Type}} issue in your {{.Ecosystem}} terrarium{{end}}`

const DefaultBodyTemplate = `[{{if .Critical}}Critical Alert{{else}}Warning{{end}}{{if .IsTest}} (test){{end}}]
Terrarium: {{.SourceID}}
Ecosystem: {{.Ecosystem}}
Issue: {{.Title}}
Details: {{.Message}}
Current Value: {{.Value}}
Threshold: {{.Threshold}}
Time: {{.Time}}
{{ if .Action }}
Recommended Action: {{.Action}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Critical  bool
	IsTest    bool
	Type      string
	Title     string
	Message   string
	Action    string
	Value     string
	Threshold string
	Ecosystem string
	SourceID  string
	Time      string
}

// Message is a rendered notification.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Template renders notification subject and body.
type Template struct {
	subject *template.Template
	body    *template.Template
}

// NewTemplate parses the subject and body templates, falling back to the defaults.
func NewTemplate(subject, body string) (*Template, error) {
	if subject == "" {
		subject = DefaultSubjectTemplate
	}
	if body == "" {
		body = DefaultBodyTemplate
	}
	parsedSubject, err := template.New("alert-subject").Parse(subject)
	if err != nil {
		return nil, err
	}
	parsedBody, err := template.New("alert-body").Parse(body)
	if err != nil {
		return nil, err
	}
	return &Template{subject: parsedSubject, body: parsedBody}, nil
}

// Render applies the templates to a record.
func (t *Template) Render(record alerts.AlertRecord) (Message, error) {
	if t == nil || t.subject == nil || t.body == nil {
		return Message{}, errors.New("alert template: nil")
	}
	data := buildTemplateData(record)
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return Message{}, err
	}
	if err := t.body.Execute(&body, data); err != nil {
		return Message{}, err
	}
	return Message{Subject: subject.String(), Body: strings.TrimSpace(body.String())}, nil
}

func buildTemplateData(r alerts.AlertRecord) TemplateData {
	ecosystem := r.Ecosystem
	if ecosystem == "" {
		ecosystem = "unknown"
	}
	return TemplateData{
		Critical:  r.Critical(),
		IsTest:    r.IsTest,
		Type:      string(r.Type),
		Title:     r.Title,
		Message:   r.Message,
		Action:    r.Action,
		Value:     formatFloat(r.Value),
		Threshold: formatFloat(r.Threshold),
		Ecosystem: ecosystem,
		SourceID:  r.SourceID,
		Time:      r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}
