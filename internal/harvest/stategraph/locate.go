package stategraph

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Locate returns the raw text of the first script whose id appears in ids.
// Earlier ids take priority over later ones regardless of document order.
func Locate(htmlBytes []byte, ids []string) (string, error) {
	if len(ids) == 0 || len(htmlBytes) == 0 {
		return "", ErrNoStateScript
	}

	root, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", ErrNoStateScript
	}

	found := make(map[string]*html.Node, len(ids))
	var search func(*html.Node)
	search = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.EqualFold(n.Data, "script") {
			if id := getAttr(n, "id"); id != "" {
				if _, seen := found[id]; !seen {
					found[id] = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			search(c)
		}
	}
	search(root)

	for _, id := range ids {
		if node, ok := found[id]; ok {
			return getTextContent(node), nil
		}
	}
	return "", ErrNoStateScript
}

// getAttr returns attribute value for given name (case-insensitive comparison).
func getAttr(node *html.Node, name string) string {
	for _, attr := range node.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}

// getTextContent concatenates the text children of node
func getTextContent(node *html.Node) string {
	var sb strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
