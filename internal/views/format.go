package views

import (
	"html/template"
	"regexp"
	"strings"
)

var (
	tripleStar    = regexp.MustCompile(`\*\*\*`)
	inlineHeading = regexp.MustCompile(`([^\n])###`)
	inlineBullet  = regexp.MustCompile(`([^\n*])\*\s`)
	inlineNumber  = regexp.MustCompile(`([^\n\d])(\d+\.\s)`)
	headingMarks  = regexp.MustCompile(`^#+\s*`)
	bulletMarks   = regexp.MustCompile(`^[*-]\s*`)
	boldSpan      = regexp.MustCompile(`\*\*(.*?)\*\*`)
	linkSpan      = regexp.MustCompile(`https?://[^\s<>"]+`)
)

// normalizeSummary puts headings, bullets and numbered items that the model
// ran together onto their own lines.
func normalizeSummary(text string) string {
	text = tripleStar.ReplaceAllString(text, "**")
	text = strings.ReplaceAll(text, "####", "###")
	text = inlineHeading.ReplaceAllString(text, "$1\n###")
	text = inlineBullet.ReplaceAllString(text, "$1\n* ")
	text = inlineNumber.ReplaceAllString(text, "$1\n$2")
	return text
}

// FormatSummary renders the shopping summary text as HTML. Lines starting
// with ### become headings, "* " and "- " lines become list items, and
// **bold** spans become <strong>. Everything else is escaped.
func FormatSummary(text string) template.HTML {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var b strings.Builder
	for _, line := range strings.Split(normalizeSummary(text), "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			b.WriteString(`<div class="summary-spacer"></div>`)
		case strings.HasPrefix(trimmed, "###"):
			heading := strings.ReplaceAll(headingMarks.ReplaceAllString(trimmed, ""), "**", "")
			b.WriteString(`<h4 class="summary-heading">`)
			b.WriteString(template.HTMLEscapeString(heading))
			b.WriteString(`</h4>`)
		case strings.HasPrefix(trimmed, "* "), strings.HasPrefix(trimmed, "- "):
			b.WriteString(`<div class="summary-item"><span class="summary-dot"></span><p>`)
			b.WriteString(renderInline(bulletMarks.ReplaceAllString(trimmed, ""), false))
			b.WriteString(`</p></div>`)
		default:
			b.WriteString(`<p class="summary-text">`)
			b.WriteString(renderInline(trimmed, false))
			b.WriteString(`</p>`)
		}
	}

	return template.HTML(b.String())
}

// FormatChat renders a chat message with one block per line, bold spans
// and clickable links.
func FormatChat(text string) template.HTML {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(`<div class="chat-line">`)
		b.WriteString(renderInline(line, true))
		b.WriteString(`</div>`)
	}
	return template.HTML(b.String())
}

// renderInline escapes s, turning **x** into <strong>x</strong> and, when
// links is set, bare URLs outside bold spans into anchors.
func renderInline(s string, links bool) string {
	var b strings.Builder
	last := 0

	for _, m := range boldSpan.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(renderPlain(s[last:m[0]], links))
		inner := strings.Trim(s[m[2]:m[3]], "*")
		b.WriteString("<strong>")
		b.WriteString(template.HTMLEscapeString(inner))
		b.WriteString("</strong>")
		last = m[1]
	}
	b.WriteString(renderPlain(s[last:], links))

	return b.String()
}

func renderPlain(s string, links bool) string {
	if !links {
		return template.HTMLEscapeString(s)
	}

	var b strings.Builder
	last := 0
	for _, m := range linkSpan.FindAllStringIndex(s, -1) {
		b.WriteString(template.HTMLEscapeString(s[last:m[0]]))
		href := template.HTMLEscapeString(s[m[0]:m[1]])
		b.WriteString(`<a href="` + href + `" target="_blank" rel="noreferrer">` + href + `</a>`)
		last = m[1]
	}
	b.WriteString(template.HTMLEscapeString(s[last:]))
	return b.String()
}
