package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/laudza/leona/internal/llm"
)

const resultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F">The Go Programming Language</a>
  <div class="result__snippet">Go is an open source programming language.</div>
</div>
<div class="result">
  <a class="result__a" href="https://go.dev/doc/">Documentation</a>
  <div class="result__snippet">Learn how to use Go.</div>
</div>
<a href="https://ads.example.com">sponsored</a>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	results, err := parseSearchResults(strings.NewReader(resultsPage), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Title != "The Go Programming Language" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[0].URL != "https://go.dev/" {
		t.Errorf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Snippet != "Go is an open source programming language." {
		t.Errorf("snippet = %q", results[0].Snippet)
	}
}

func TestParseSearchResults_Limit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		sb.WriteString(`<a class="result__a" href="https://example.com">r</a>`)
	}
	sb.WriteString("</body></html>")

	results, err := parseSearchResults(strings.NewReader(sb.String()), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Errorf("results = %d, want 5", len(results))
	}
}

type fakePrefStore struct {
	prefs map[string]string
	err   error
}

func (f *fakePrefStore) SetPreference(key, value string) error {
	if f.err != nil {
		return f.err
	}
	if f.prefs == nil {
		f.prefs = map[string]string{}
	}
	f.prefs[key] = value
	return nil
}

func newTestWeb(resp string, server *httptest.Server) *Web {
	h := NewWeb(&stubGenerator{response: resp}, &fakePrefStore{})
	if server != nil {
		h.httpClient = server.Client()
	}
	h.sleep = func(time.Duration) {}
	return h
}

func TestWeb_FetchPageSummarizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><style>.x{}</style></head><body><script>evil()</script><p>Plain page text here.</p></body></html>`))
	}))
	defer server.Close()

	h := newTestWeb(`{"action":"fetch_page","url":"`+server.URL+`"}`, server)
	h.generator = &twoCallGenerator{
		first:  `{"action":"fetch_page","url":"` + server.URL + `"}`,
		second: "This page contains plain text.",
	}

	got := h.Execute(context.Background(), "fetch "+server.URL, nil)
	if !strings.Contains(got, "This page contains plain text.") {
		t.Errorf("unexpected response: %q", got)
	}
}

// twoCallGenerator returns first on the first call and second afterwards,
// covering the parse-then-summarize call sequence.
type twoCallGenerator struct {
	first, second string
	calls         int
}

func (g *twoCallGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.calls++
	if g.calls == 1 {
		return g.first, nil
	}
	return g.second, nil
}

func TestWeb_FetchPageUnreachable(t *testing.T) {
	h := newTestWeb(`{"action":"fetch_page","url":"http://127.0.0.1:1/nope"}`, nil)
	h.httpClient.Timeout = time.Second

	got := h.Execute(context.Background(), "fetch the page", nil)
	if !strings.Contains(got, "couldn't fetch") {
		t.Errorf("unexpected response: %q", got)
	}
}

func TestWeb_MonitorStoresPreference(t *testing.T) {
	prefs := &fakePrefStore{}
	h := NewWeb(&stubGenerator{response: `{"action":"monitor","url":"https://example.com/releases"}`}, prefs)

	got := h.Execute(context.Background(), "watch the releases page", nil)
	if !strings.Contains(got, "watching https://example.com/releases") {
		t.Fatalf("unexpected response: %q", got)
	}
	if _, ok := prefs.prefs["monitor_https://example.com/releases"]; !ok {
		t.Errorf("preference not stored: %v", prefs.prefs)
	}
}

func TestWeb_SearchWithoutQuery(t *testing.T) {
	h := newTestWeb(`{"action":"search"}`, nil)
	got := h.Execute(context.Background(), "search", nil)
	if !strings.Contains(got, "What should I search for") {
		t.Errorf("unexpected response: %q", got)
	}
}

func TestWeb_UnknownActionGivesOverview(t *testing.T) {
	h := newTestWeb("not json", nil)
	got := h.Execute(context.Background(), "web things", nil)
	if !strings.Contains(got, "Web Tools") {
		t.Errorf("unexpected response: %q", got)
	}
}

func TestExtractPageText_SkipsScriptAndStyle(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<html><head><style>.a{color:red}</style></head><body><script>var x=1;</script><p>visible words</p></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	got := extractPageText(doc)
	if !strings.Contains(got, "visible words") {
		t.Errorf("missing visible text: %q", got)
	}
	if strings.Contains(got, "color:red") || strings.Contains(got, "var x") {
		t.Errorf("script/style leaked: %q", got)
	}
}
