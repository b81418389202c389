package email

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer turns a (kind, metadata) pair from the queue into the HTML body.
// Templates are embedded at build time, so a missing template is caught by
// NewRenderer at startup rather than at the first dispatch.
type Renderer struct {
	tmpl    *template.Template
	baseURL string
}

// NewRenderer parses all embedded templates. baseURL is the public app URL
// used for call-to-action links (dashboard, upload page, pricing).
func NewRenderer(baseURL string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("email: parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl, baseURL: baseURL}, nil
}

// renderContext is the root object every template executes against.
type renderContext struct {
	BaseURL string
	Data    Payload
}

// Render produces the HTML for one queued job. Metadata is the raw JSONB
// stored at enqueue time; an unknown kind or malformed payload fails the job,
// never silently drops it.
func (r *Renderer) Render(kind Kind, metadata json.RawMessage) (string, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	payload, err := DecodePayload(kind, metadata)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, spec.template+".html", renderContext{
		BaseURL: r.baseURL,
		Data:    payload,
	}); err != nil {
		return "", fmt.Errorf("email: render %s: %w", kind, err)
	}
	return buf.String(), nil
}
