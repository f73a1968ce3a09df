package client

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLMeta holds the named meta tags of an HTML document
type HTMLMeta map[string]string

// MetaContent implements MetaSource
func (m HTMLMeta) MetaContent(name string) string {
	return m[strings.ToLower(name)]
}

// ParseHTMLMeta collects every <meta name=... content=...> in the document.
// When a name repeats, the first occurrence wins.
func ParseHTMLMeta(r io.Reader) (HTMLMeta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	out := HTMLMeta{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Meta {
			var name, content string
			hasContent := false
			for _, a := range n.Attr {
				switch strings.ToLower(a.Key) {
				case "name":
					name = strings.ToLower(strings.TrimSpace(a.Val))
				case "content":
					content = a.Val
					hasContent = true
				}
			}
			if name != "" && hasContent {
				if _, seen := out[name]; !seen {
					out[name] = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}
