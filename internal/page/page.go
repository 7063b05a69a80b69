// Package page wraps an HTML document and exposes the small mutation
// surface variant application needs: slot lookup, text/class/attribute/style
// writes, and preview badge injection. All mutations are idempotent.
package page

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// SlotAttr marks an element as the target of an experiment's mutation.
const SlotAttr = "data-sp-slot"

const previewBadgeID = "sp-preview-badge"

type Document struct {
	root *html.Node
}

func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Document{root: root}, nil
}

func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Slots returns every element whose slot marker equals name, in document
// order. A page without the slot is a legal page; callers skip silently.
func (d *Document) Slots(name string) []*html.Node {
	var nodes []*html.Node
	walk(d.root, func(n *html.Node) {
		if n.Type == html.ElementNode && getAttr(n, SlotAttr) == name {
			nodes = append(nodes, n)
		}
	})
	return nodes
}

func (d *Document) body() *html.Node {
	var body *html.Node
	walk(d.root, func(n *html.Node) {
		if body == nil && n.Type == html.ElementNode && n.Data == "body" {
			body = n
		}
	})
	return body
}

func (d *Document) byID(id string) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && getAttr(n, "id") == id {
			found = n
		}
	})
	return found
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// setText replaces the element's children with a single text node.
func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// addClass adds class to the element's class list if not already present.
func addClass(n *html.Node, class string) {
	classes := strings.Fields(getAttr(n, "class"))
	for _, c := range classes {
		if c == class {
			return
		}
	}
	classes = append(classes, class)
	setAttr(n, "class", strings.Join(classes, " "))
}

// removeClass removes class from the element's class list.
func removeClass(n *html.Node, class string) {
	classes := strings.Fields(getAttr(n, "class"))
	kept := classes[:0]
	for _, c := range classes {
		if c != class {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		setAttr(n, "class", "")
		return
	}
	setAttr(n, "class", strings.Join(kept, " "))
}

// setStyleProp sets one property in the element's inline style, preserving
// unrelated properties.
func setStyleProp(n *html.Node, property, value string) {
	var parts []string
	for _, decl := range strings.Split(getAttr(n, "style"), ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name, _, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(name) == property {
			continue
		}
		parts = append(parts, decl)
	}
	parts = append(parts, property+": "+value)
	setAttr(n, "style", strings.Join(parts, "; "))
}

// InjectPreviewBadge appends a fixed-position indicator showing the forced
// test/variant pair with a dismiss link. Re-injection is a no-op.
func (d *Document) InjectPreviewBadge(test, variant, dismissURL string) {
	if d.byID(previewBadgeID) != nil {
		return
	}
	body := d.body()
	if body == nil {
		return
	}

	badge := &html.Node{
		Type: html.ElementNode,
		Data: "div",
		Attr: []html.Attribute{
			{Key: "id", Val: previewBadgeID},
			{Key: "style", Val: "position: fixed; bottom: 16px; right: 16px; z-index: 9999; background: #1a1a2e; color: #fff; padding: 8px 12px; border-radius: 6px; font: 13px/1.4 sans-serif"},
		},
	}
	badge.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: "Preview: " + test + " = " + variant + " ",
	})

	dismiss := &html.Node{
		Type: html.ElementNode,
		Data: "a",
		Attr: []html.Attribute{
			{Key: "href", Val: dismissURL},
			{Key: "style", Val: "color: #ffd54f"},
		},
	}
	dismiss.AppendChild(&html.Node{Type: html.TextNode, Data: "dismiss"})
	badge.AppendChild(dismiss)

	body.AppendChild(badge)
}
