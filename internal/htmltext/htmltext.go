// ABOUTME: Converts HTML article bodies into normalised plain text for embedding
// ABOUTME: Block elements become line breaks; scripts and styles are dropped
package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

const maxDepth = 100

// ToText parses s as HTML and returns its visible text with collapsed whitespace.
// Input that is not HTML passes through with only whitespace normalisation.
func ToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return normalize(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return normalize(s)
	}
	var sb strings.Builder
	extract(doc, &sb, 0)
	return normalize(sb.String())
}

func extract(n *html.Node, sb *strings.Builder, depth int) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "svg", "iframe":
			return
		case "br":
			sb.WriteString("\n")
		case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "table", "tr", "ul", "ol":
			sb.WriteString("\n\n")
		case "li":
			sb.WriteString("\n- ")
		case "td", "th":
			sb.WriteString(" ")
		case "img":
			for _, a := range n.Attr {
				if a.Key == "alt" && a.Val != "" {
					sb.WriteString(a.Val)
				}
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extract(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "table":
			sb.WriteString("\n\n")
		}
	}
}

// normalize collapses runs of spaces, trims lines and keeps at most one blank line
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
