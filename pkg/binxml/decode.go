package binxml

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/user/bnsdat/pkg/wire"
)

// maxDepth bounds the nesting of decoded nodes.
const maxDepth = 1024

// Decode parses a binary XML file. Text nodes whose content is blank are
// consumed but left out of the tree.
func Decode(data []byte) (*Document, error) {
	r := bytes.NewReader(data)
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if r.Len() == 0 {
		return nil, fmt.Errorf("%w: no content after header", ErrFormat)
	}

	path, err := wire.ReadString(r, wire.Width32, true)
	if err != nil {
		return nil, fmt.Errorf("%w: original path: %v", ErrFormat, err)
	}

	d := decoder{r: r}
	root, err := d.node(Element, 0)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: empty root element", ErrFormat)
	}
	return &Document{Header: header, OriginalPath: path, Root: root}, nil
}

type decoder struct {
	r *bytes.Reader
}

func (d *decoder) readInt32() (int32, error) {
	v, err := wire.Width32.ReadInt(d.r)
	return int32(v), err
}

func (d *decoder) readString() (string, error) {
	return wire.ReadString(d.r, wire.Width32, true)
}

// node reads one node and its subtree. It returns nil for a dropped text node.
func (d *decoder) node(kind Kind, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nodes nested deeper than %d", ErrFormat, maxDepth)
	}
	if depth > 0 {
		tag, err := d.readInt32()
		if err != nil {
			return nil, fmt.Errorf("%w: node type: %v", ErrFormat, err)
		}
		kind = Kind(tag)
	}

	var n *Node
	switch kind {
	case Element:
		n = &Node{Kind: Element}
		count, err := d.readInt32()
		if err != nil {
			return nil, fmt.Errorf("%w: attribute count: %v", ErrFormat, err)
		}
		if count < 0 {
			return nil, fmt.Errorf("%w: negative attribute count %d", ErrFormat, count)
		}
		for i := int32(0); i < count; i++ {
			name, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("%w: attribute name: %v", ErrFormat, err)
			}
			value, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("%w: attribute %q value: %v", ErrFormat, name, err)
			}
			n.SetAttr(name, value)
		}
		if _, err := d.r.ReadByte(); err != nil {
			return nil, fmt.Errorf("%w: element marker: %v", ErrFormat, err)
		}
		if n.Name, err = d.readString(); err != nil {
			return nil, fmt.Errorf("%w: tag name: %v", ErrFormat, err)
		}
	case Text:
		text, err := d.readString()
		if err != nil {
			return nil, fmt.Errorf("%w: text: %v", ErrFormat, err)
		}
		if _, err := d.r.ReadByte(); err != nil {
			return nil, fmt.Errorf("%w: text marker: %v", ErrFormat, err)
		}
		// the tag of a text node is always "text"
		if _, err := d.readString(); err != nil {
			return nil, fmt.Errorf("%w: text tag: %v", ErrFormat, err)
		}
		if strings.TrimSpace(text) != "" {
			n = NewText(text)
		}
	default:
		return nil, fmt.Errorf("%w: unknown node type %d", ErrFormat, int32(kind))
	}

	childCount, err := d.readInt32()
	if err != nil {
		return nil, fmt.Errorf("%w: child count: %v", ErrFormat, err)
	}
	if childCount < 0 {
		return nil, fmt.Errorf("%w: negative child count %d", ErrFormat, childCount)
	}
	autoID, err := d.readInt32()
	if err != nil {
		return nil, fmt.Errorf("%w: auto id: %v", ErrFormat, err)
	}
	if n != nil {
		n.AutoID = autoID
	}

	for i := int32(0); i < childCount; i++ {
		child, err := d.node(0, depth+1)
		if err != nil {
			return nil, err
		}
		// Children of text nodes have no textual form and are dropped with them.
		if child != nil && n != nil && n.Kind == Element {
			n.Children = append(n.Children, child)
		}
	}
	return n, nil
}
