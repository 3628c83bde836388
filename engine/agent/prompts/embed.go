package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// TemplateFS exposes the prompt templates for agents, the router and the judge.
//
//go:embed templates/*.tmpl
var TemplateFS embed.FS

const (
	DocumentAgent = "document_agent.tmpl"
	GraphAgent    = "graph_agent.tmpl"
	Router        = "router.tmpl"
	Judge         = "judge.tmpl"
	JudgeRequest  = "judge_request.tmpl"
)

var templates = template.Must(
	template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(TemplateFS, "templates/*.tmpl"),
)

// Render executes the named template with data.
func Render(name string, data any) (string, error) {
	tpl := templates.Lookup(name)
	if tpl == nil {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
