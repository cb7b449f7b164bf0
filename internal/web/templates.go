package web

import (
	"fmt"
	"html/template"
	"time"
)

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - baunsu</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 56rem; margin: 2rem auto; color: #1f2937; }
textarea { width: 100%; font-family: monospace; }
table { border-collapse: collapse; width: 100%; }
td, th { border-bottom: 1px solid #e5e7eb; padding: .25rem .5rem; text-align: left; vertical-align: top; }
.bounced { color: #b91c1c; } .clean { color: #15803d; } .error { color: #b91c1c; }
</style>
</head>
<body>
<h1>baunsu</h1>
{{template "content" .}}
</body>
</html>{{end}}`

const indexTemplate = `{{define "content"}}
<form method="post" action="/detect">
{{.CSRFField}}
<p><label for="message">Paste a raw message or its headers</label></p>
<textarea id="message" name="message" rows="16">{{.Message}}</textarea>
<p><label><input type="checkbox" name="save"> Save to history</label> <button type="submit">Check</button></p>
</form>
{{with .Error}}<p class="error">{{.}}</p>{{end}}
{{with .Result}}
<h2 class="{{if .Bounced}}bounced{{else}}clean{{end}}">{{if .Bounced}}Bounce{{else}}Not a bounce{{end}} (score {{.Score}})</h2>
<p>{{.Found}} of {{.Max}} known headers present.{{with .Recipient}} Failed recipient: <strong>{{.}}</strong>{{end}}</p>
{{if .Matches}}
<table>
<tr><th>Header</th><th>Matched values</th></tr>
{{range .Matches}}<tr><td>{{.Name}}</td><td>{{range .Values}}<div>{{.}}</div>{{end}}</td></tr>
{{end}}</table>
{{end}}
{{end}}
{{with .Stats}}<p>History: {{.Total}} scanned, {{.Bounced}} bounced over {{.Runs}} runs.</p>{{end}}
{{with .Recent}}
<h2>Recent</h2>
<table>
<tr><th>When</th><th>Source</th><th>Subject</th><th>Score</th><th>Recipient</th></tr>
{{range .}}<tr class="{{if .Bounced}}bounced{{end}}"><td>{{formatTime .ScannedAt}}</td><td>{{.Source}}</td><td>{{.Subject}}</td><td>{{formatScore .Score}}</td><td>{{.Recipient}}</td></tr>
{{end}}</table>
{{end}}
<p><small>Known headers: {{range $i, $h := .Headers}}{{if $i}}, {{end}}{{$h}}{{end}}</small></p>
{{end}}`

var pageTemplates = map[string]string{
	"index.html": indexTemplate,
}

// parseTemplates parses every page on top of the shared layout. Each page
// gets its own template set to avoid "content" block conflicts.
func parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.Format("Jan 2, 2006 3:04 PM")
		},
		"formatScore": func(f float64) string {
			return fmt.Sprintf("%.3f", f)
		},
	}

	templates := make(map[string]*template.Template)
	for name, content := range pageTemplates {
		pageTmpl := template.New(name).Funcs(funcs)
		if _, err := pageTmpl.Parse(layoutTemplate); err != nil {
			return nil, fmt.Errorf("failed to parse layout for %s: %w", name, err)
		}
		if _, err := pageTmpl.Parse(content); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = pageTmpl
	}
	return templates, nil
}
