package binxml

import (
	"fmt"
	"io"
	"math"

	"github.com/orcaman/writerseeker"

	"github.com/user/bnsdat/pkg/wire"
)

// elementMarker is the byte written between a node's content and its tag name.
const elementMarker = 1

// textTag is the tag name stored for every text node.
const textTag = "text"

// Encode serializes doc. Node ids are assigned in pre-order starting at 1 at the
// root. The header of doc is reused when it carries the signature; otherwise a
// new one is written. The file size field is always recomputed.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("%w: document has no root", ErrFormat)
	}
	if doc.Root.Kind != Element {
		return nil, fmt.Errorf("%w: root must be an element, got %s", ErrFormat, doc.Root.Kind)
	}

	header := doc.Header
	if !header.valid() {
		header = NewHeader()
	}

	ws := &writerseeker.WriterSeeker{}
	if _, err := ws.Write(make([]byte, HeaderSize)); err != nil {
		return nil, err
	}
	if _, err := wire.WriteString(ws, doc.OriginalPath, wire.Width32, true); err != nil {
		return nil, fmt.Errorf("write original path: %w", err)
	}
	if _, err := encodeNode(ws, doc.Root, true, 1); err != nil {
		return nil, err
	}

	size, err := ws.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("%w: encoded size %d exceeds the header field", ErrFormat, size)
	}
	header.FileSize = int32(size)
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if err := header.encode(ws); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return io.ReadAll(ws.Reader())
}

// encodeNode writes n and its subtree with n numbered id and returns the next unused id.
func encodeNode(out io.Writer, n *Node, root bool, id int32) (int32, error) {
	w := wire.Width32
	if !root {
		if err := w.WriteInt(out, int64(n.Kind)); err != nil {
			return 0, err
		}
	}

	var tag string
	var children []*Node
	switch n.Kind {
	case Element:
		if err := w.WriteInt(out, int64(len(n.Attrs))); err != nil {
			return 0, err
		}
		for _, a := range n.Attrs {
			if _, err := wire.WriteString(out, a.Name, w, true); err != nil {
				return 0, err
			}
			if _, err := wire.WriteString(out, a.Value, w, true); err != nil {
				return 0, err
			}
		}
		tag = n.Name
		children = n.Children
	case Text:
		if _, err := wire.WriteString(out, n.Text, w, true); err != nil {
			return 0, err
		}
		tag = textTag
	default:
		return 0, fmt.Errorf("%w: unsupported node type %d", ErrFormat, int32(n.Kind))
	}

	if _, err := out.Write([]byte{elementMarker}); err != nil {
		return 0, err
	}
	if _, err := wire.WriteString(out, tag, w, true); err != nil {
		return 0, err
	}
	if err := w.WriteInt(out, int64(len(children))); err != nil {
		return 0, err
	}
	if err := w.WriteInt(out, int64(id)); err != nil {
		return 0, err
	}

	next := id + 1
	for _, c := range children {
		var err error
		if next, err = encodeNode(out, c, false, next); err != nil {
			return 0, err
		}
	}
	return next, nil
}
