// Package core holds the template helpers shared by every page.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/puppy-social/puppy/internal/http/uiutil"
)

// Deps lets renderView reach the parsed template set, which only exists after Funcs is installed.
type Deps struct {
	Template        **template.Template
	ViewTemplateFor func(string) string
	Now             func() time.Time
}

// Funcs returns the helpers available to layout and view templates.
func Funcs(deps Deps) template.FuncMap {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return template.FuncMap{
		"renderView":   renderView(deps),
		"timeTag":      func(ts time.Time) template.HTML { return timeTag(ts, now()) },
		"truncateText": uiutil.TruncateWithEllipsis,
		"initial":      uiutil.Initial,
	}
}

// renderView executes the named view into the layout's content slot.
func renderView(deps Deps) func(view string, data any) (template.HTML, error) {
	return func(view string, data any) (template.HTML, error) {
		if deps.Template == nil || *deps.Template == nil {
			return "", errors.New("template not initialized")
		}
		var buf bytes.Buffer
		if err := (*deps.Template).ExecuteTemplate(&buf, deps.ViewTemplateFor(view), data); err != nil {
			return "", err
		}
		// #nosec G203 - produced by html/template, already escaped.
		return template.HTML(buf.String()), nil
	}
}

// timeTag renders <time> with a relative label and the absolute time as a tooltip.
func timeTag(ts, now time.Time) template.HTML {
	if ts.IsZero() {
		return ""
	}
	// #nosec G203 - every interpolated value is escaped.
	return template.HTML(fmt.Sprintf(`<time datetime="%s" title="%s">%s</time>`,
		ts.UTC().Format(time.RFC3339),
		template.HTMLEscapeString(uiutil.FormatFriendlyDateTime(ts)),
		template.HTMLEscapeString(uiutil.FriendlyRelativeTime(ts, now)),
	))
}
