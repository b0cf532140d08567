package page

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Markers returns the element ids and data-* attribute names present in the
// serialised content, deduplicated and sorted.
func Markers(content string) []string {
	seen := make(map[string]struct{})
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		_, hasAttr := z.TagName()
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			k := string(key)
			switch {
			case k == "id" && len(val) > 0:
				seen[string(val)] = struct{}{}
			case strings.HasPrefix(k, "data-"):
				seen[k] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// VisibleText returns the text content of the document with script, style
// and template bodies skipped and whitespace runs collapsed to one space.
func VisibleText(content string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a tokenizer error: either way the text so far is all we get.
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			if hidden(z) {
				skip++
			}
		case html.EndTagToken:
			if hidden(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func hidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "template", "noscript":
		return true
	}
	return false
}
