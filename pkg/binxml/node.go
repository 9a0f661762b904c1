// Package binxml converts between the compact binary XML encoding found in
// archive entries and ordinary textual XML.
package binxml

// Kind is the type of a node. Its value is the type tag written before every
// non-root node.
type Kind int32

const (
	Element Kind = 1
	Text    Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Element:
		return "element"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// Attr is a single attribute of an element.
type Attr struct {
	Name  string
	Value string
}

// Node is an element or text node of a binary XML tree.
type Node struct {
	Kind     Kind
	Name     string // tag name, elements only
	Attrs    []Attr // unique names, in document order
	Text     string // text nodes only
	Children []*Node

	// AutoID is the pre-order number read from the binary form. Encode
	// renumbers the tree and ignores it.
	AutoID int32
}

// NewElement returns an element node without attributes or children.
func NewElement(name string) *Node {
	return &Node{Kind: Element, Name: name}
}

// NewText returns a text node.
func NewText(text string) *Node {
	return &Node{Kind: Text, Text: text}
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets the named attribute, replacing an existing value.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// Append adds children to n and returns n.
func (n *Node) Append(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// hasText reports whether any direct child is a text node.
func (n *Node) hasText() bool {
	for _, c := range n.Children {
		if c.Kind == Text {
			return true
		}
	}
	return false
}

// Document is a decoded binary XML file.
type Document struct {
	Header Header

	// OriginalPath is the source path recorded by the producer, stored once
	// after the header.
	OriginalPath string

	Root *Node
}
