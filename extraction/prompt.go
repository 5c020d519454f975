package extraction

import (
	"bytes"
	"text/template"
)

type field struct {
	Name string
	Type string
	Desc string
}

var listingFields = []field{
	{"id", "string", "lot or stock number identifying the listing (required)"},
	{"url", "string", "absolute link to the listing page"},
	{"year", "integer", "model year"},
	{"make", "string", "manufacturer"},
	{"model", "string", "model name"},
	{"trim", "string", "trim level or series"},
	{"miles", "integer", "odometer reading in miles, digits only"},
	{"current_bid", "integer", "current bid in whole dollars, digits only"},
	{"buy_now_price", "integer", "buy-it-now price in whole dollars, digits only"},
	{"condition", "string", "run/drive or start code"},
	{"damage_type", "string", "primary damage"},
	{"secondary_damage", "string", "secondary damage"},
	{"location", "string", "yard, branch or city/state"},
	{"sale_date", "string", "auction date in ISO 8601"},
	{"thumbnail_url", "string", "main image URL"},
}

var detailFields = append(append([]field{}, listingFields...),
	field{"vin", "string", "17-character VIN"},
	field{"engine", "string", "engine description"},
	field{"transmission", "string", "transmission type"},
	field{"drive_type", "string", "drive line, e.g. FWD, AWD"},
	field{"fuel_type", "string", "fuel type"},
	field{"color", "string", "exterior color"},
	field{"interior_color", "string", "interior color"},
	field{"keys", "string", "whether keys are present"},
	field{"airbags", "string", "airbag status"},
	field{"seller", "string", "seller name"},
	field{"title_type", "string", "title or sale document type"},
	field{"images", "array of strings", "all full-size image URLs, in page order"},
	field{"description", "string", "free-text description or highlights"},
)

var promptTmpl = template.Must(template.New("prompt").Parse(`You are extracting vehicle auction data from a page of {{.Site}}.
{{if .Many}}Return a JSON array with one object per vehicle listing on the page. Return [] if there are none.{{else}}Return one JSON object describing the vehicle on this detail page.{{end}}

Fields:
{{range .Fields}}- {{.Name}} ({{.Type}}): {{.Desc}}
{{end}}
Rules:
- Use null for any field that is missing or unclear. Never guess.
- Numbers must be plain integers without currency symbols, commas or units.
- Respond with JSON only: no markdown fences, no commentary.
{{- with .Hints}}
{{- if .IDField}}
- The listing id appears on this site as "{{.IDField}}".{{end}}
{{- if .PriceField}}
- The current bid appears on this site as "{{.PriceField}}".{{end}}
{{- if .BaseURL}}
- Resolve relative links against {{.BaseURL}}.{{end}}
{{- range .Notes}}
- {{.}}{{end}}
{{- end}}

Page content:
{{.Content}}
`))

type promptData struct {
	Site    string
	Many    bool
	Fields  []field
	Hints   Hints
	Content string
}

func buildPrompt(site string, many bool, hints Hints, content string) (string, error) {
	fields := detailFields
	if many {
		fields = listingFields
	}
	var buf bytes.Buffer
	err := promptTmpl.Execute(&buf, promptData{
		Site:    site,
		Many:    many,
		Fields:  fields,
		Hints:   hints,
		Content: content,
	})
	return buf.String(), err
}
