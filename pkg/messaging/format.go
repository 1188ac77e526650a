package messaging

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var documentTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Segoe UI, Arial, sans-serif; font-size: 14px; color: #222;">
{{.Body}}
{{- if .Signature}}
<p style="margin-top: 24px; color: #555;">{{.Signature}}</p>
{{- end}}
</body>
</html>
`))

// HTMLFormatter wraps agent-authored content in an HTML document that renders
// consistently in Outlook
type HTMLFormatter struct {
	Signature string
}

// Format returns the wrapped document. Content is embedded as-is apart from
// newlines, which become <br>.
func (f HTMLFormatter) Format(subject, content string) (string, error) {
	data := struct {
		Subject   string
		Body      template.HTML
		Signature template.HTML
	}{
		Subject:   subject,
		Body:      bodyHTML(content),
		Signature: plainToHTML(f.Signature),
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email: %w", err)
	}
	return buf.String(), nil
}

func bodyHTML(content string) template.HTML {
	return template.HTML(strings.ReplaceAll(normalizeNewlines(content), "\n", "<br>"))
}

func plainToHTML(s string) template.HTML {
	if s == "" {
		return ""
	}
	escaped := template.HTMLEscapeString(normalizeNewlines(s))
	return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
