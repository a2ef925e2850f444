package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/finetuning-llms/companion/internal/model/chat"
	"github.com/finetuning-llms/companion/internal/model/page"
)

//go:embed templates/*.html
var templates embed.FS

// Logo is the sidebar image.
const Logo = "https://assets-global.website-files.com/654319b06bb59e8d9e5582f3/65661a57fe3c6cfbeb1aadaa_Asset%202.png"

// View is everything one page render depends on.
type View struct {
	Pages        []page.Page
	Current      page.Page
	Body         template.HTML
	Logo         string
	Messages     []chat.Message
	ShowFeedback bool
	FeedbackKey  string
	Notice       string
	Toast        string
	Credential   string
}

// Renderer turns pages and sessions into HTML. Chapter bodies are converted once at startup.
type Renderer struct {
	tmpl   *template.Template
	pages  page.Store
	bodies map[string]template.HTML
}

// New parses the templates and pre-renders every page body.
func New(pages page.Store) (*Renderer, error) {
	tmpl, err := template.ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)

	bodies := make(map[string]template.HTML)
	for _, p := range pages.List() {
		html, err := Markdown(md, p.Markdown)
		if err != nil {
			return nil, fmt.Errorf("render page %s: %w", p.Slug, err)
		}
		bodies[p.Slug] = html
	}

	return &Renderer{tmpl: tmpl, pages: pages, bodies: bodies}, nil
}

// Markdown converts source with md. Raw HTML in the source is not passed through.
func Markdown(md goldmark.Markdown, source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// PageView builds the view for a page without chat state.
func (r *Renderer) PageView(p page.Page) View {
	return View{
		Pages:   r.pages.List(),
		Current: p,
		Body:    r.bodies[p.Slug],
		Logo:    Logo,
	}
}

// ChatView builds the view for a chat page. The transcript is the only source for
// the rendered conversation, so an unchanged session renders identically.
func (r *Renderer) ChatView(p page.Page, session chat.Session) View {
	v := r.PageView(p)
	v.Messages = session.Transcript.Visible()
	v.ShowFeedback = session.FeedbackEnabled()
	v.FeedbackKey = session.FeedbackKey()
	return v
}

// Render writes the full HTML document for v.
func (r *Renderer) Render(w io.Writer, v View) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "layout", v); err != nil {
		return fmt.Errorf("execute layout: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

//go:embed static
var static embed.FS

// Static returns the stylesheet directory rooted at "static".
func Static() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
