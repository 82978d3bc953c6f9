package vision

import (
	"strings"
	"text/template"
)

var classifyTmpl = template.Must(template.New("classify").Funcs(template.FuncMap{"join": strings.Join}).Parse(
	`You are an expert in waste management and recycling. Analyze this image and provide:
1. The type of waste, one of: {{join .WasteTypes ", "}}
2. An estimate of the quantity or amount (in kg or liters)
3. Your confidence level in this assessment as a number between 0 and 1

Respond in JSON format like this:
{
  "wasteType": "type of waste",
  "quantity": "estimated quantity with unit",
  "confidence": 0.0
}`))

var verifyTmpl = template.Must(template.New("verify").Parse(
	`You are an expert in waste management and recycling.{{if .Before}} The first image shows the site when the waste was reported; the second image shows the site after collection.{{end}} Analyze the {{if .Before}}images{{else}}image{{end}} and provide:
1. Whether the collected waste matches the type: {{.WasteType}}
2. Whether the collected quantity matches: {{.Amount}}
3. Your confidence level in this assessment as a number between 0 and 1

Respond in JSON format like this:
{
  "wasteTypeMatch": true,
  "quantityMatch": true,
  "confidence": 0.0
}`))

func render(t *template.Template, data any) string {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		// templates are static; an error here is a programming mistake
		panic(err)
	}
	return sb.String()
}
