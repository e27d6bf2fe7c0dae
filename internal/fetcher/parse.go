package fetcher

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ExtractPostBodies returns the text of every `.timeline-item .tweet-content`
// element in document order.
func ExtractPostBodies(page string) ([]string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var bodies []string
	var traverse func(n *html.Node, inItem bool)
	traverse = func(n *html.Node, inItem bool) {
		if n.Type == html.ElementNode {
			if n.Data == "div" && hasClass(n, "timeline-item") {
				inItem = true
			}
			if inItem && hasClass(n, "tweet-content") {
				bodies = append(bodies, strings.TrimSpace(textContent(n)))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c, inItem)
		}
	}
	traverse(doc, false)

	return bodies, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch {
		case node.Type == html.TextNode:
			sb.WriteString(node.Data)
		case node.Type == html.ElementNode && node.Data == "br":
			sb.WriteString("\n")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
