package secrets

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed views/*.html
var viewsFS embed.FS

// Page names understood by the default renderer
const (
	PageHome     = "home"
	PageLogin    = "login"
	PageRegister = "register"
	PageSecrets  = "secrets"
	PageError    = "error"
)

// PageData is what every page gets to render with
type PageData struct {
	Title     string
	User      *User // nil when anonymous
	Flash     string
	Message   string
	Providers []string
}

// Renderer writes a named page
type Renderer interface {
	Render(w http.ResponseWriter, status int, page string, data PageData) error
}

// HTMLRenderer renders the embedded html/template pages
type HTMLRenderer struct {
	templates *template.Template
}

// NewHTMLRenderer parses the embedded views
func NewHTMLRenderer() (*HTMLRenderer, error) {
	t, err := template.New("views").Funcs(template.FuncMap{
		"title": capitalize,
	}).ParseFS(viewsFS, "views/*.html")
	if err != nil {
		return nil, err
	}
	return &HTMLRenderer{templates: t}, nil
}

// Render executes page into a buffer first so a template failure never leaves
// a half written response.
func (h *HTMLRenderer) Render(w http.ResponseWriter, status int, page string, data PageData) error {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, page, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
