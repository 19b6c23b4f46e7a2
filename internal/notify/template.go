package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

const DefaultSubject = "[fleet-watcher] "

const DefaultTemplate = `Event: {{ .Kind }}
{{- if .Server }}
Server: {{ .Server }}
{{- end }}
Since: {{ dateInZone "2006-01-02 15:04:05 MST" .Since "UTC" }}
Message: {{ .Message }}
{{- with .Details }}
Details: {{ . }}
{{- end }}
{{- with .Footer }}

{{ . }}
{{- end }}
`

// TemplateData is what channel templates are executed against.
type TemplateData struct {
	Kind    string
	Server  string
	Since   time.Time
	Message string
	Details string
	Footer  string
}

func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New(name).Funcs(sprig.FuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, subject, footer string, ev models.NotificationEvent) (Message, error) {
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, TemplateData{
		Kind:    string(ev.Kind),
		Server:  ev.ServerID,
		Since:   ev.Since,
		Message: ev.Message,
		Details: ev.Details,
		Footer:  footer,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render template: %w", err)
	}

	if subject == "" {
		subject = DefaultSubject
	}
	return Message{Event: ev, Subject: subject + ev.Message, Body: buf.String()}, nil
}
