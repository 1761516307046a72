package httpx

import (
	"bytes"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	corefuncs "github.com/puppy-social/puppy/internal/http/templates/core"
	"github.com/puppy-social/puppy/internal/routeguard"
)

// TemplateRenderer renders HTML templates for shell responses.
type TemplateRenderer struct {
	t      *template.Template
	logger *slog.Logger
}

// TemplateRendererConfig holds configuration for creating a TemplateRenderer.
type TemplateRendererConfig struct {
	TemplateFS fs.FS        // Filesystem containing templates (required)
	Logger     *slog.Logger // Logger for template errors (optional)
}

// NewTemplateRenderer constructs a renderer by parsing layout.tmpl and views/*.tmpl from TemplateFS.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	if cfg.TemplateFS == nil {
		return nil, errors.New("TemplateFS is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer := &TemplateRenderer{logger: logger}

	var t *template.Template
	funcs := corefuncs.Funcs(corefuncs.Deps{
		Template:        &t,
		ViewTemplateFor: ViewTemplateFor,
	})
	t, err := template.New("root").Funcs(funcs).ParseFS(cfg.TemplateFS, "*.tmpl", "views/*.tmpl")
	if err != nil {
		logger.Error("template parsing failed",
			slog.Any("error", err),
			slog.String("phase", "initialization"),
		)
		return nil, err
	}
	for _, view := range allViews {
		if t.Lookup(ViewTemplateFor(string(view))) == nil {
			return nil, errors.New("missing template for view " + string(view))
		}
	}
	renderer.t = t
	return renderer, nil
}

// ViewTemplateFor returns the template that renders view.
func ViewTemplateFor(view string) string {
	return "view-" + view
}

var allViews = []routeguard.View{
	routeguard.ViewLoading,
	routeguard.ViewFeed,
	routeguard.ViewMovies,
	routeguard.ViewMessages,
	routeguard.ViewParty,
	routeguard.ViewProfile,
	routeguard.ViewSignIn,
	routeguard.ViewAdmin,
	routeguard.ViewNotFound,
}

// RenderPage renders the full layout around data's view with the given status.
func (r *TemplateRenderer) RenderPage(w http.ResponseWriter, status int, data any) error {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("template execution failed",
			slog.String("template", "layout"),
			slog.Any("error", err),
		)
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		r.logger.Error("failed to write rendered template", slog.Any("error", err))
		return err
	}
	return nil
}
