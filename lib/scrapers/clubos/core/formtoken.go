package core

import (
	"fmt"
	"io"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// FormTokens maps hidden form field and CSRF token names to their opaque
// values. Values are never interpreted, only echoed back on submission.
type FormTokens map[string]string

var scriptTokenPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"csrf_token", regexp.MustCompile(`csrf_token\s*:\s*"([^"]+)"`)},
	{"csrfToken", regexp.MustCompile(`window\.csrfToken\s*=\s*"([^"]+)"`)},
}

// ExtractFormTokens finds the login form on a page and collects every hidden
// input inside it, plus meta and script embedded CSRF tokens. Visible fields
// (username, password) are supplied by the caller at submission time.
//
// A page without a login form yields an empty set and ErrLoginFormMissing.
// Malformed HTML yields an empty set and ErrParseDegraded. Neither panics.
func ExtractFormTokens(doc *goquery.Document) (FormTokens, error) {
	tokens := FormTokens{}

	form := findLoginForm(doc)
	if form == nil {
		return tokens, ErrLoginFormMissing
	}

	form.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		if _, exists := tokens[name]; exists {
			return
		}
		tokens[name] = input.AttrOr("value", "")
	})

	if meta := doc.Find(`meta[name=csrf-token]`).First(); meta.Length() > 0 {
		if content, ok := meta.Attr("content"); ok {
			tokens["csrf-token"] = content
		}
	}

	doc.Find("script").Each(func(_ int, script *goquery.Selection) {
		text := script.Text()
		for _, p := range scriptTokenPatterns {
			if _, exists := tokens[p.name]; exists {
				continue
			}
			groups := p.pattern.FindStringSubmatch(text)
			if len(groups) == 2 {
				tokens[p.name] = groups[1]
			}
		}
	})

	return tokens, nil
}

// ExtractFormTokensHTML is ExtractFormTokens over raw markup.
func ExtractFormTokensHTML(r io.Reader) (FormTokens, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return FormTokens{}, fmt.Errorf("%w: %v", ErrParseDegraded, err)
	}
	return ExtractFormTokens(doc)
}

func findLoginForm(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		if form.Find("input[type=password]").Length() > 0 ||
			form.Find("input[name=username]").Length() > 0 {
			found = form
			return false
		}
		return true
	})
	return found
}
