package echoconsole

import (
	"embed"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core/permission"
	"github.com/trezcool/masomo/console/core/session"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// view is the data every page template executes with.
type view struct {
	Title  string
	User   *session.User
	Nav    []permission.Route
	Alerts []Alert

	// login
	Next   string
	Email  string
	Errors map[string]string

	// pages
	Data  string
	Error string
}

// renderer is an echo.Renderer over html/template; every page is parsed together with _base.gohtml.
type renderer struct {
	templates map[string]*htmltmpl.Template
}

var _ echo.Renderer = (*renderer)(nil)

func newRenderer(strict bool) (*renderer, error) {
	fps, err := fs.Glob(templateFS, "templates/*.gohtml")
	if err != nil {
		return nil, errors.Wrap(err, "listing templates")
	}

	r := &renderer{templates: make(map[string]*htmltmpl.Template, len(fps))}
	for _, fp := range fps {
		fname := path.Base(fp)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		tmpl, err := htmltmpl.ParseFS(templateFS, "templates/_base.gohtml", fp)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", fname)
		}
		if strict {
			tmpl = tmpl.Option("missingkey=error")
		}
		r.templates[strings.TrimSuffix(fname, path.Ext(fname))] = tmpl
	}
	return r, nil
}

func (r *renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	tmpl, ok := r.templates[name]
	if !ok {
		return errors.Errorf("template %q not found", name)
	}
	return tmpl.Execute(w, data)
}
