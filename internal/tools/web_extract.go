package tools

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// extractJSON pretty-prints a body that parses as JSON; anything else is
// returned verbatim with the "raw" extractor label.
func extractJSON(body []byte) (string, string) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body), "raw"
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return string(pretty), "json"
}

// Page chrome stripped before extraction. Header blocks survive markdown
// extraction (the page h1 often lives there) but not plain-text extraction.
var (
	chromeTags   = []string{"script", "style", "nav", "footer"}
	reChrome     = compilePaired(chromeTags)
	reHeaderTag  = regexp.MustCompile(`(?is)<header[\s\S]*?</header>`)
	reComment    = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reAnyTag     = regexp.MustCompile(`<[^>]+>`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns  = regexp.MustCompile(`[ \t]{2,}`)
	rePre        = regexp.MustCompile(`(?is)<pre[^>]*>([\s\S]*?)</pre>`)
	reCode       = regexp.MustCompile(`(?i)<code[^>]*>([\s\S]*?)</code>`)
	reBlockquote = regexp.MustCompile(`(?is)<blockquote[^>]*>([\s\S]*?)</blockquote>`)
)

func compilePaired(tags []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(tags))
	for i, tag := range tags {
		out[i] = regexp.MustCompile(`(?is)<` + tag + `[\s\S]*?</` + tag + `>`)
	}
	return out
}

type rewriteRule struct {
	re   *regexp.Regexp
	repl string
}

// headingRules covers h1 through h6 in order.
var headingRules = func() []rewriteRule {
	rules := make([]rewriteRule, 0, 6)
	for level := 1; level <= 6; level++ {
		rules = append(rules, rewriteRule{
			re:   regexp.MustCompile(fmt.Sprintf(`(?i)<h%d[^>]*>([\s\S]*?)</h%d>`, level, level)),
			repl: "\n" + strings.Repeat("#", level) + " $1\n",
		})
	}
	return rules
}()

// inlineRules converts the remaining markup worth keeping; matched in order
// so links resolve before emphasis and paragraphs break before list items.
var inlineRules = []rewriteRule{
	{regexp.MustCompile(`(?i)<a[^>]*href="([^"]*)"[^>]*>([\s\S]*?)</a>`), "[$2]($1)"},
	{regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`), "![$1]"},
	{regexp.MustCompile(`(?i)<(?:strong|b)[^>]*>([\s\S]*?)</(?:strong|b)>`), "**$1**"},
	{regexp.MustCompile(`(?i)<(?:em|i)[^>]*>([\s\S]*?)</(?:em|i)>`), "*$1*"},
	{regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`), "\n$1\n"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
	{regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`), "\n- $1"},
}

// structuralRules is the subset used for plain-text extraction.
var structuralRules = inlineRules[4:]

func stripChrome(page string, dropHeader bool) string {
	s := reComment.ReplaceAllString(page, "")
	for _, re := range reChrome {
		s = re.ReplaceAllString(s, "")
	}
	if dropHeader {
		s = reHeaderTag.ReplaceAllString(s, "")
	}
	return s
}

// htmlToMarkdown reduces an HTML page to markdown. Regexp-driven, not a DOM
// walk: it covers the tag set common pages actually use.
func htmlToMarkdown(page string) string {
	s := stripChrome(page, false)
	for _, r := range headingRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	// Code blocks convert before the generic tag strip eats their markers.
	s = rePre.ReplaceAllString(s, "\n```\n$1\n```\n")
	s = reCode.ReplaceAllString(s, "`$1`")
	s = reBlockquote.ReplaceAllStringFunc(s, quoteBlock)
	for _, r := range inlineRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	s = reAnyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	s = reSpaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func quoteBlock(match string) string {
	sub := reBlockquote.FindStringSubmatch(match)
	if len(sub) < 2 {
		return match
	}
	lines := strings.Split(strings.TrimSpace(sub[1]), "\n")
	for i, line := range lines {
		lines[i] = "> " + strings.TrimSpace(line)
	}
	return "\n" + strings.Join(lines, "\n") + "\n"
}

// htmlToText reduces an HTML page to plain text lines.
func htmlToText(page string) string {
	s := stripChrome(page, true)
	for _, r := range structuralRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	s = reAnyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reSpaceRuns.ReplaceAllString(s, " ")
	s = reBlankRuns.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

var (
	reMDHeading = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMDCode    = regexp.MustCompile("`[^`]+`")
	reMDImage   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMDLink    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// markdownToText strips markdown formatting for text extraction mode.
func markdownToText(md string) string {
	s := reMDHeading.ReplaceAllString(md, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = reMDCode.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Trim(m, "`")
	})
	s = reMDImage.ReplaceAllString(s, "$1")
	s = reMDLink.ReplaceAllString(s, "$1")
	s = reBlankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
