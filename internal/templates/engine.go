// Package templates stores message templates by lineage and renders them
// against per-send data.
package templates

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"msgcenter/internal/models"
)

// placeholderRe matches {{name}} exactly: no inner whitespace, no partial
// names.
var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_.\-]*)\}\}`)

const (
	FormatText = "text"
	FormatHTML = "html"
)

// Content is a rendered message ready for the dispatch collaborator.
type Content struct {
	Channel models.Channel `json:"channel"`
	Subject string         `json:"subject,omitempty"`
	Body    string         `json:"body"`
	Format  string         `json:"format"`
}

// Renderer shapes substituted text for one channel.
type Renderer interface {
	Render(t *models.Template, subject, body string) (Content, error)
}

type RendererFunc func(t *models.Template, subject, body string) (Content, error)

func (f RendererFunc) Render(t *models.Template, subject, body string) (Content, error) {
	return f(t, subject, body)
}

type Engine struct {
	mu        sync.RWMutex
	renderers map[models.Channel]Renderer
}

// NewEngine returns an engine with the email, sms and lark renderers.
func NewEngine() *Engine {
	e := &Engine{renderers: make(map[models.Channel]Renderer)}
	e.Register(models.ChannelEmail, RendererFunc(renderEmail))
	e.Register(models.ChannelSMS, RendererFunc(renderSMS))
	e.Register(models.ChannelLark, RendererFunc(renderLark))
	return e
}

func (e *Engine) Register(ch models.Channel, r Renderer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderers[ch] = r
}

func (e *Engine) Supports(ch models.Channel) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.renderers[ch]
	return ok
}

// Render binds data to t. It fails on a disabled template, on a channel
// without renderer and on the first placeholder (subject first, then
// content) that has no key in data. Extra keys are ignored.
func (e *Engine) Render(t *models.Template, data map[string]string) (Content, error) {
	if t.Status != models.TemplateActive {
		return Content{}, fmt.Errorf("template %s: %w", t.TemplateID, models.ErrTemplateDisabled)
	}

	e.mu.RLock()
	r, ok := e.renderers[t.Channel]
	e.mu.RUnlock()
	if !ok {
		return Content{}, fmt.Errorf("template %s channel %d: %w", t.TemplateID, int(t.Channel), models.ErrUnknownChannel)
	}

	if name, missing := firstMissing(data, t.Subject, t.Content); missing {
		return Content{}, &models.MissingPlaceholderError{Name: name}
	}
	return r.Render(t, substitute(t.Subject, data), substitute(t.Content, data))
}

// Placeholders lists the distinct placeholder names of text in order of
// first appearance.
func Placeholders(text string) []string {
	matches := placeholderRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

func firstMissing(data map[string]string, texts ...string) (string, bool) {
	for _, text := range texts {
		for _, name := range Placeholders(text) {
			if _, ok := data[name]; !ok {
				return name, true
			}
		}
	}
	return "", false
}

// substitute is single-pass: substituted values are never scanned again.
func substitute(text string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		return data[m[2:len(m)-2]]
	})
}

func renderEmail(t *models.Template, subject, body string) (Content, error) {
	if subject == "" {
		subject = t.Name
	}
	format := FormatText
	if looksLikeHTML(body) {
		format = FormatHTML
	}
	return Content{Channel: models.ChannelEmail, Subject: subject, Body: body, Format: format}, nil
}

func renderSMS(t *models.Template, _ string, body string) (Content, error) {
	if t.SignName != "" {
		body = "【" + t.SignName + "】" + body
	}
	return Content{Channel: models.ChannelSMS, Body: body, Format: FormatText}, nil
}

func renderLark(_ *models.Template, subject, body string) (Content, error) {
	if subject != "" {
		body = subject + "\n" + body
	}
	return Content{Channel: models.ChannelLark, Subject: subject, Body: body, Format: FormatText}, nil
}

func looksLikeHTML(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">")
}
