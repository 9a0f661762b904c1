package binxml

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

const indentUnit = "  "

// IsText reports whether data starts with an XML declaration.
func IsText(data []byte) bool {
	return bytes.HasPrefix(data, []byte("<?xml"))
}

// ToText renders doc as textual XML. The original path becomes a comment in
// front of the root's children. Elements that contain text are written
// without added whitespace so their text survives a round trip.
func ToText(doc *Document) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("%w: document has no root", ErrFormat)
	}
	if doc.Root.Kind != Element {
		return nil, fmt.Errorf("%w: root must be an element, got %s", ErrFormat, doc.Root.Kind)
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	out.CreateText("\n")
	out.SetRoot(textElement(doc.Root, 0, &doc.OriginalPath))
	out.CreateText("\n")

	b, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("write xml: %w", err)
	}
	return b, nil
}

func textElement(n *Node, depth int, comment *string) *etree.Element {
	el := etree.NewElement(n.Name)
	for _, a := range n.Attrs {
		el.CreateAttr(a.Name, a.Value)
	}

	pretty := !n.hasText()
	newline := func(d int) {
		if pretty {
			el.CreateText("\n" + strings.Repeat(indentUnit, d))
		}
	}

	if comment != nil {
		newline(depth + 1)
		el.CreateComment(*comment)
	}
	for _, c := range n.Children {
		switch c.Kind {
		case Element:
			newline(depth + 1)
			el.AddChild(textElement(c, depth+1, nil))
		case Text:
			el.CreateText(c.Text)
		}
	}
	if len(el.Child) > 0 {
		newline(depth)
	}
	return el
}

// ParseText parses textual XML into a document. A comment that is the first
// child of the root is taken as the original path and reported by the boolean;
// it is not part of the returned tree. Other comments, processing instructions
// and blank text are skipped.
func ParseText(data []byte) (*Document, bool, error) {
	in := etree.NewDocument()
	if err := in.ReadFromBytes(data); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	root := in.Root()
	if root == nil {
		return nil, false, fmt.Errorf("%w: no root element", ErrFormat)
	}

	doc := &Document{Header: NewHeader()}
	hasPath := false
	for _, tok := range root.Child {
		if cd, ok := tok.(*etree.CharData); ok && strings.TrimSpace(cd.Data) == "" {
			continue
		}
		if c, ok := tok.(*etree.Comment); ok {
			doc.OriginalPath = c.Data
			hasPath = true
		}
		break
	}
	doc.Root = nodeFromElement(root)
	return doc, hasPath, nil
}

// nodeFromElement copies el into a new node tree. Adjacent character data is
// merged into one text node.
func nodeFromElement(el *etree.Element) *Node {
	n := NewElement(el.FullTag())
	for _, a := range el.Attr {
		n.SetAttr(a.FullKey(), a.Value)
	}

	var text strings.Builder
	pending := false
	flush := func() {
		if pending && strings.TrimSpace(text.String()) != "" {
			n.Append(NewText(text.String()))
		}
		text.Reset()
		pending = false
	}
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			text.WriteString(t.Data)
			pending = true
		case *etree.Element:
			flush()
			n.Append(nodeFromElement(t))
		}
	}
	flush()
	return n
}
