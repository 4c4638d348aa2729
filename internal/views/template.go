package views

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

// TemplateFS holds layouts/, partials/ and pages/. It is set from main.
var TemplateFS fs.FS

// Logger receives template execution errors.
var Logger = zap.NewNop()

// Template wraps a parsed template with helper methods for rendering.
type Template struct {
	tmpl *template.Template
}

// TemplateData is the standard data structure passed to all templates.
type TemplateData struct {
	// Current authenticated user (nil if not logged in)
	CurrentUser *models.User

	// CSRF token for forms
	CSRFToken string

	// Flash messages
	Error   string
	Success string
	Info    string

	// Page-specific data
	Data any

	Title       string
	Description string

	// Request info (useful for active nav highlighting)
	CurrentPath string

	GoogleEnabled bool
	IsDevelopment bool
}

// DefaultFuncMap returns the functions available in all templates.
func DefaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"title":    toTitle,
		"trim":     strings.TrimSpace,
		"truncate": truncate,

		"formatDate":     formatDate,
		"formatDateTime": formatDateTime,
		"timeAgo":        timeAgo,
		"duration":       formatDuration,

		"percentage": percentage,
		"deref":      deref,

		"formatSummary": FormatSummary,
		"formatChat":    FormatChat,
		"statusClass":   statusClass,
		"swatchStyle":   swatchStyle,

		"safeURL": func(s string) template.URL { return template.URL(s) },
		"default": defaultValue,
	}
}

// ParseFS parses the base layout, every partial and the given pages.
//
//	tmpl, err := views.ParseFS("pages/analysis.gohtml")
func ParseFS(patterns ...string) (*Template, error) {
	tmpl := template.New("").Funcs(DefaultFuncMap())

	files := []string{"layouts/base.gohtml"}

	partials, err := fs.Glob(TemplateFS, "partials/*.gohtml")
	if err != nil {
		return nil, fmt.Errorf("failed to glob partials: %w", err)
	}
	files = append(files, partials...)
	files = append(files, patterns...)

	for _, name := range files {
		content, err := fs.ReadFile(TemplateFS, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		// pages define "content" and partials define their own names
		tmpl, err = tmpl.Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}

	return &Template{tmpl: tmpl}, nil
}

// MustParseFS is like ParseFS but panics on error.
func MustParseFS(patterns ...string) *Template {
	tmpl, err := ParseFS(patterns...)
	if err != nil {
		panic(fmt.Sprintf("failed to parse templates: %v", err))
	}
	return tmpl
}

// Execute renders the full page.
func (t *Template) Execute(w io.Writer, data *TemplateData) error {
	return t.tmpl.ExecuteTemplate(w, "base", data)
}

// Fragment renders a single named template, used for panels refreshed by
// polling.
func (t *Template) Fragment(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// ExecuteHTTP renders the page with a 200 status.
func (t *Template) ExecuteHTTP(w http.ResponseWriter, r *http.Request, data *TemplateData) {
	t.ExecuteHTTPWithStatus(w, r, http.StatusOK, data)
}

// ExecuteHTTPWithStatus renders to a buffer first so a failing template
// never sends a partial page.
func (t *Template) ExecuteHTTPWithStatus(w http.ResponseWriter, r *http.Request, status int, data *TemplateData) {
	if data != nil {
		data.CurrentPath = r.URL.Path
	}

	buf := &bytes.Buffer{}
	if err := t.Execute(buf, data); err != nil {
		Logger.Error("template execution error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	if length <= 3 {
		return string(runes[:length])
	}
	return string(runes[:length-3]) + "..."
}

// toTitle converts a string to title case.
// Example: "hello world" -> "Hello World"
func toTitle(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		runes := []rune(word)
		words[i] = strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
	}
	return strings.Join(words, " ")
}

func formatDate(t time.Time) string {
	return t.Format("Jan 2, 2006")
}

func formatDateTime(t time.Time) string {
	return t.Format("Jan 2, 2006 3:04 PM")
}

func timeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 48*time.Hour:
		return "yesterday"
	case d < 7*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	default:
		return formatDate(t)
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Round(100 * time.Millisecond).String()
}

func percentage(value, total int) int {
	if total == 0 {
		return 0
	}
	return (value * 100) / total
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func statusClass(status any) string {
	switch fmt.Sprint(status) {
	case "pending", "processing":
		return "status status-pending"
	case "completed":
		return "status status-completed"
	case "failed":
		return "status status-failed"
	default:
		return "status"
	}
}

// swatchStyle returns the inline background for a palette swatch. Only
// parsed hex values reach here.
func swatchStyle(hex string) template.CSS {
	if hex == "" {
		return "background: repeating-linear-gradient(45deg, #ddd, #ddd 4px, #fff 4px, #fff 8px)"
	}
	return template.CSS("background-color: " + hex)
}

func defaultValue(value, defaultVal any) any {
	if value == nil || value == "" || value == 0 {
		return defaultVal
	}
	return value
}
