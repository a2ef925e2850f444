package page

import (
	"embed"
	"fmt"
)

//go:embed content/*.md
var content embed.FS

// Link is an external hyperlink shown in the sidebar.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Page is one selectable entry of the sidebar navigation.
type Page struct {
	Slug     string `json:"slug"`
	Label    string `json:"label"`
	Markdown string `json:"-"`
	// Chat enables the credential field, transcript and chat input.
	Chat  bool   `json:"chat"`
	Links []Link `json:"links,omitempty"`
}

// SetupLinks are the resources listed next to the credential field.
var SetupLinks = []Link{
	{Label: "Get an OpenAI API key", URL: "https://platform.openai.com/account/api-keys"},
	{Label: "Get visual studio code", URL: "https://code.visualstudio.com/Download"},
	{Label: "Create your hugging face account", URL: "https://huggingface.co"},
	{Label: "Work with google colab", URL: "https://colab.research.google.com"},
	{Label: "Get Python", URL: "https://www.python.org/downloads/"},
	{Label: "Install pip", URL: "https://pip.pypa.io/en/stable/installation/"},
	{Label: "LLM Leaderboard", URL: "https://huggingface.co/spaces/HuggingFaceH4/open_llm_leaderboard"},
}

// Seed provides the chapters of the companion site in sidebar order.
func Seed() []Page {
	return []Page{
		{Slug: "introduction", Label: "Introduction", Markdown: mustRead("introduction.md")},
		{Slug: "chapter-1", Label: "Chapter 1", Markdown: mustRead("chapter1.md")},
		{Slug: "chapter-2", Label: "Chapter 2", Markdown: mustRead("chapter2.md"), Chat: true, Links: SetupLinks},
	}
}

func mustRead(name string) string {
	data, err := content.ReadFile("content/" + name)
	if err != nil {
		panic(fmt.Sprintf("page content %s missing: %v", name, err))
	}
	return string(data)
}
