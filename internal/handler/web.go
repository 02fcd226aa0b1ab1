package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/laudza/leona/internal/intent"
	"github.com/laudza/leona/internal/llm"
)

const (
	searchURL       = "https://html.duckduckgo.com/html/?q="
	webTimeout      = 15 * time.Second
	topResults      = 5
	pageTextCap     = 6000
	researchSpacing = time.Second
)

// SearchResult is one hit from the search engine results page.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// PreferenceStore is the slice of the memory store the Web handler needs.
type PreferenceStore interface {
	SetPreference(key, value string) error
}

// Web searches the internet, fetches and summarizes pages, and runs
// multi-query research.
type Web struct {
	generator  llm.Generator
	prefs      PreferenceStore
	httpClient *http.Client

	// sleep paces consecutive research queries. Swappable for tests.
	sleep func(time.Duration)
}

// NewWeb creates a Web handler.
func NewWeb(g llm.Generator, prefs PreferenceStore) *Web {
	return &Web{
		generator:  g,
		prefs:      prefs,
		httpClient: &http.Client{Timeout: webTimeout},
		sleep:      time.Sleep,
	}
}

func (h *Web) Name() string    { return "web" }
func (h *Web) Purpose() string { return "web search, page summaries, online research" }

// Execute parses the web request and dispatches on its action.
func (h *Web) Execute(ctx context.Context, input string, params map[string]any) string {
	cmd := intent.ParseStructured(ctx, h.generator, webPrompt(input))

	switch intent.Action(cmd) {
	case "search":
		return h.search(ctx, cmd)
	case "fetch_page":
		return h.fetchPage(ctx, cmd)
	case "summarize":
		return h.summarize(ctx, cmd)
	case "research":
		return h.research(ctx, cmd)
	case "monitor":
		return h.monitor(cmd)
	default:
		return h.overview()
	}
}

func webPrompt(input string) string {
	return fmt.Sprintf(`Parse this web request:
User: %s

Extract:
- action: (search, fetch_page, summarize, research, monitor)
- query: Search terms or research topic
- url: Page URL (for fetch_page, summarize, monitor)

Return as JSON.`, input)
}

func (h *Web) search(ctx context.Context, cmd map[string]any) string {
	query := intent.Str(cmd, "query", "")
	if query == "" {
		return "What should I search for?"
	}

	results, err := h.searchEngine(ctx, query)
	if err != nil {
		return fmt.Sprintf("I couldn't reach the search engine: %v. Check your connection and I'll try again.", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("🔍 No results for '%s'. Try rephrasing?", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 Top results for '%s':\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n   %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "\n   %s", r.Snippet)
		}
	}
	sb.WriteString("\n\nWant me to summarize any of these?")
	return sb.String()
}

// searchEngine queries DuckDuckGo's HTML endpoint and parses the result list.
func (h *Web) searchEngine(ctx context.Context, query string) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; LEONA/1.0)")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	return parseSearchResults(resp.Body, topResults)
}

// parseSearchResults walks the results page markup collecting result links
// (class result__a) and snippets (class result__snippet).
func parseSearchResults(r io.Reader, limit int) ([]SearchResult, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) > limit {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, SearchResult{
					Title: nodeText(n),
					URL:   cleanResultURL(attr(n, "href")),
				})
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = nodeText(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cleanResultURL unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=...).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		if direct, err := url.QueryUnescape(uddg); err == nil {
			return direct
		}
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func (h *Web) fetchPage(ctx context.Context, cmd map[string]any) string {
	pageURL := intent.Str(cmd, "url", "")
	if pageURL == "" {
		return "Which page should I fetch? Give me a URL."
	}

	text, err := h.pageText(ctx, pageURL)
	if err != nil {
		return fmt.Sprintf("I couldn't fetch that page: %v. Is the URL right?", err)
	}
	summary := h.summarizeText(ctx, text)
	return fmt.Sprintf("📄 Here's what %s says:\n\n%s", pageURL, summary)
}

func (h *Web) summarize(ctx context.Context, cmd map[string]any) string {
	if pageURL := intent.Str(cmd, "url", ""); pageURL != "" {
		text, err := h.pageText(ctx, pageURL)
		if err != nil {
			return fmt.Sprintf("I couldn't fetch that page: %v. Is the URL right?", err)
		}
		return "📝 Summary:\n\n" + h.summarizeText(ctx, text)
	}
	if query := intent.Str(cmd, "query", ""); query != "" {
		return h.search(ctx, map[string]any{"query": query})
	}
	return "What should I summarize? Give me a URL or a topic."
}

// pageText fetches a URL and extracts its visible text, skipping script and
// style content, capped at pageTextCap characters.
func (h *Web) pageText(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; LEONA/1.0)")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	return extractPageText(doc), nil
}

func extractPageText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if sb.Len() >= pageTextCap {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := sb.String()
	if len(text) > pageTextCap {
		text = text[:pageTextCap]
	}
	return strings.TrimSpace(text)
}

// summarizeText asks the model for a short summary, degrading to a raw
// excerpt when the model is unavailable.
func (h *Web) summarizeText(ctx context.Context, text string) string {
	summary, err := h.generator.Generate(ctx, llm.Request{
		Prompt:      "Summarize the following page content in 3-5 sentences:\n\n" + text,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		return text
	}
	return strings.TrimSpace(summary)
}

// research runs three angled queries on the topic, pacing requests, then
// synthesizes the collected snippets into one answer.
func (h *Web) research(ctx context.Context, cmd map[string]any) string {
	topic := intent.Str(cmd, "query", "")
	if topic == "" {
		return "What topic should I research?"
	}

	queries := []string{
		topic + " overview",
		topic + " latest news",
		topic + " key facts",
	}

	var notes strings.Builder
	for i, q := range queries {
		if i > 0 {
			h.sleep(researchSpacing)
		}
		results, err := h.searchEngine(ctx, q)
		if err != nil {
			continue
		}
		for _, r := range results {
			if r.Snippet != "" {
				fmt.Fprintf(&notes, "- %s: %s\n", r.Title, r.Snippet)
			}
		}
	}

	if notes.Len() == 0 {
		return fmt.Sprintf("I couldn't gather anything useful on '%s' right now. Want me to try a plain search instead?", topic)
	}

	synthesis, err := h.generator.Generate(ctx, llm.Request{
		Prompt: fmt.Sprintf(`Research notes on "%s":
%s
Write a concise research summary from these notes, organized by theme.`, topic, notes.String()),
		MaxTokens:   500,
		Temperature: 0.4,
	})
	if err != nil || strings.TrimSpace(synthesis) == "" {
		return fmt.Sprintf("🔬 Research notes on '%s':\n\n%s", topic, notes.String())
	}
	return fmt.Sprintf("🔬 Research: %s\n\n%s", topic, strings.TrimSpace(synthesis))
}

// monitor records a URL to watch as a preference.
func (h *Web) monitor(cmd map[string]any) string {
	pageURL := intent.Str(cmd, "url", "")
	if pageURL == "" {
		return "Which page should I keep an eye on? Give me a URL."
	}
	if err := h.prefs.SetPreference("monitor_"+pageURL, time.Now().Format(time.RFC3339)); err != nil {
		return fmt.Sprintf("I couldn't save that watch: %v.", err)
	}
	return fmt.Sprintf("👀 I'm now watching %s. I'll mention it when you ask about your monitored pages.", pageURL)
}

func (h *Web) overview() string {
	return `🌐 I can look things up for you! Here's what I can do:

🔍 Web Tools:
• Search the web and show top results
• Fetch and summarize any page
• Run deeper research across multiple searches
• Watch pages for you

Try: "search for Go concurrency patterns" or "summarize https://example.com".

What would you like to know?`
}
