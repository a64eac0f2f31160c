package tools

import (
	"net"
	"strings"
	"testing"
)

func TestCheckSSRFRejectsInternalHosts(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"localhost", "http://localhost/admin"},
		{"localhost with port", "http://localhost:8080/"},
		{"loopback ip", "http://127.0.0.1/"},
		{"mdns suffix", "http://printer.local/"},
		{"unspecified", "http://0.0.0.0/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkSSRF(tt.url); err == nil {
				t.Errorf("checkSSRF(%q) = nil, want rejection", tt.url)
			}
		})
	}
}

func TestIsInternalIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true}, // cloud metadata
		{"0.0.0.0", true},
		{"::1", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
	}
	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad fixture ip %q", tt.ip)
		}
		if got := isInternalIP(ip); got != tt.want {
			t.Errorf("isInternalIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

const ddgFixture = `
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=abc">Example <b>Domain</b></a>
  <a class="result__snippet" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage">This domain is for <b>use</b> in examples.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://plain.test/direct">Plain Link</a>
  <a class="result__snippet" href="https://plain.test/direct">A direct result.</a>
</div>
`

func TestExtractDDGResults(t *testing.T) {
	results, err := extractDDGResults(ddgFixture, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	first := results[0]
	if first.Title != "Example Domain" {
		t.Errorf("title = %q, want tags stripped", first.Title)
	}
	if first.URL != "https://example.com/page" {
		t.Errorf("url = %q, want uddg target extracted", first.URL)
	}
	if !strings.Contains(first.Description, "use in examples") {
		t.Errorf("description = %q", first.Description)
	}

	if results[1].URL != "https://plain.test/direct" {
		t.Errorf("direct url mangled: %q", results[1].URL)
	}
}

func TestExtractDDGResultsHonorsCount(t *testing.T) {
	results, err := extractDDGResults(ddgFixture, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want count cap of 1", len(results))
	}
}

func TestExtractDDGResultsEmptyPage(t *testing.T) {
	results, err := extractDDGResults("<html><body>no hits</body></html>", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from an empty page", len(results))
	}
}

func TestFormatSearchResults(t *testing.T) {
	out := formatSearchResults("go lru cache", []searchResult{
		{Title: "A", URL: "https://a.test", Description: "first"},
		{Title: "B", URL: "https://b.test"},
	}, "duckduckgo")

	for _, want := range []string{
		"Search results for: go lru cache (via duckduckgo)",
		"1. A\n   https://a.test",
		"first",
		"2. B",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted output missing %q:\n%s", want, out)
		}
	}

	empty := formatSearchResults("nothing", nil, "brave")
	if empty != "No results found for: nothing" {
		t.Errorf("empty output = %q", empty)
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("short", 10); got != "short" {
		t.Errorf("truncateStr(short) = %q", got)
	}
	if got := truncateStr("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncateStr long = %q", got)
	}
}

func TestHTMLToMarkdown(t *testing.T) {
	page := `<html><head><script>evil()</script><style>p{}</style></head>
<body><nav>skip me</nav>
<h1>Title</h1>
<p>Intro with <a href="https://x.test/a">a link</a> and <strong>bold</strong>.</p>
<ul><li>one</li><li>two &amp; half</li></ul>
<pre>code block</pre>
<footer>legal</footer></body></html>`

	got := htmlToMarkdown(page)

	for _, want := range []string{
		"# Title",
		"[a link](https://x.test/a)",
		"**bold**",
		"- one",
		"- two & half",
		"```\ncode block\n```",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("markdown missing %q:\n%s", want, got)
		}
	}
	for _, reject := range []string{"evil()", "skip me", "legal", "<p>"} {
		if strings.Contains(got, reject) {
			t.Errorf("markdown kept %q:\n%s", reject, got)
		}
	}
}

func TestHTMLToTextDropsHeaderBlocks(t *testing.T) {
	page := `<header>site chrome</header><p>Body &nbsp;text</p><br><li>item</li>`
	got := htmlToText(page)
	if strings.Contains(got, "site chrome") {
		t.Errorf("text extraction kept header chrome: %q", got)
	}
	if !strings.Contains(got, "Body") || !strings.Contains(got, "- item") {
		t.Errorf("text extraction mangled body: %q", got)
	}
}

func TestExtractJSON(t *testing.T) {
	pretty, kind := extractJSON([]byte(`{"b":1,"a":[2]}`))
	if kind != "json" {
		t.Fatalf("kind = %q, want json", kind)
	}
	if !strings.Contains(pretty, "\n  \"a\"") {
		t.Errorf("not indented: %q", pretty)
	}

	raw, kind := extractJSON([]byte("plain text"))
	if kind != "raw" || raw != "plain text" {
		t.Errorf("non-JSON body: got (%q, %q)", raw, kind)
	}
}

func TestMarkdownToText(t *testing.T) {
	md := "# Head\n\nSome **bold** and `code` plus [text](https://a.test) and ![alt](i.png)."
	got := markdownToText(md)
	for _, reject := range []string{"#", "**", "`", "](", "!["} {
		if strings.Contains(got, reject) {
			t.Errorf("marker %q survived: %q", reject, got)
		}
	}
	for _, want := range []string{"Head", "bold", "code", "text", "alt"} {
		if !strings.Contains(got, want) {
			t.Errorf("content %q lost: %q", want, got)
		}
	}
}
