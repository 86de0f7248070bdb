package collector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxTitleScanBytes = 1 << 20 // 1 MiB

// looksLikeHTML reports whether text opens like an HTML document.
func looksLikeHTML(text string) bool {
	head := text
	if len(head) > 512 {
		head = head[:512]
	}
	head = strings.ToLower(strings.TrimSpace(head))
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<head")
}

// parseTitle returns the og:title or <title> of an HTML body, or "".
func parseTitle(text string) string {
	if len(text) > maxTitleScanBytes {
		text = text[:maxTitleScanBytes]
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return ""
	}

	og := ""
	if node := doc.Find(`meta[property="og:title"]`).First(); node.Length() > 0 {
		if val, ok := node.Attr("content"); ok {
			og = val
		}
	}
	return firstNonEmpty(og, doc.Find("title").First().Text())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
