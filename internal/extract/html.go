package extract

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxListed = 10

// contentSelectors are tried in order to find a page's main content; body is the fallback.
var contentSelectors = []string{
	"main", "article", ".content", ".main-content",
	"#content", "#main", ".post-content", ".entry-content",
}

type page struct {
	Title     string
	Content   string
	Meta      map[string]string
	Links     []string
	Images    []string
	Selectors map[string]string
}

func parsePage(r io.Reader, base *url.URL, selectors map[string]string) (page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return page{}, err
	}

	p := page{
		Meta:      make(map[string]string),
		Selectors: make(map[string]string),
	}

	walk(doc, func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Title:
			if p.Title == "" {
				p.Title = textOf(n)
			}
		case atom.Meta:
			name := attr(n, "name")
			if name == "" {
				name = attr(n, "property")
			}
			if content := attr(n, "content"); name != "" && content != "" {
				p.Meta[name] = content
			}
		case atom.A:
			if href := attr(n, "href"); href != "" && len(p.Links) < maxListed {
				p.Links = append(p.Links, resolve(base, href))
			}
		case atom.Img:
			if src := attr(n, "src"); src != "" && len(p.Images) < maxListed {
				p.Images = append(p.Images, resolve(base, src))
			}
		}
		return true
	})

	p.Content = mainContent(doc)
	for name, sel := range selectors {
		if n := selectFirst(doc, parseSelector(sel)); n != nil {
			p.Selectors[name] = textOf(n)
		}
	}
	return p, nil
}

func mainContent(doc *html.Node) string {
	for _, sel := range contentSelectors {
		if n := selectFirst(doc, parseSelector(sel)); n != nil {
			return textOf(n)
		}
	}
	if body := selectFirst(doc, selector{tag: "body"}); body != nil {
		return textOf(body)
	}
	return textOf(doc)
}

// selector is the supported subset of CSS: tag, #id, .class, tag.class and tag#id.
type selector struct {
	tag   string
	id    string
	class string
}

func parseSelector(s string) selector {
	s = strings.TrimSpace(s)
	var sel selector
	if i := strings.IndexAny(s, "#."); i >= 0 {
		sel.tag = s[:i]
		if s[i] == '#' {
			sel.id = s[i+1:]
		} else {
			sel.class = s[i+1:]
		}
	} else {
		sel.tag = s
	}
	sel.tag = strings.ToLower(sel.tag)
	return sel
}

func (s selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return s.tag != "" || s.id != "" || s.class != ""
}

func selectFirst(root *html.Node, sel selector) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if sel.matches(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits n and its descendants depth-first; returning false from fn skips n's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// textOf returns the visible text below n with whitespace collapsed.
func textOf(n *html.Node) string {
	var parts []string
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.ElementNode:
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return false
			}
		case html.TextNode:
			if t := strings.TrimSpace(c.Data); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
