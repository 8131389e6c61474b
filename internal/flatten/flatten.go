// Package flatten normalizes nested forwarded/quoted message content into a
// flat text-plus-media representation suitable for classification.
package flatten

// NodeKind discriminates the content node union. Forward detection happens
// once at ingestion; downstream code only ever switches on this tag.
type NodeKind int

const (
	KindText NodeKind = iota
	KindMedia
	KindForward
)

// Node is one element of a message content tree. Exactly one of Text, Media,
// or Children is meaningful, selected by Kind.
type Node struct {
	Kind     NodeKind
	Text     string
	Media    string // opaque media reference (file ID or URL)
	Children []Node
}

// TextNode returns a plain text node.
func TextNode(s string) Node { return Node{Kind: KindText, Text: s} }

// MediaNode returns a media reference node.
func MediaNode(ref string) Node { return Node{Kind: KindMedia, Media: ref} }

// ForwardNode returns a nested forward wrapping the given children.
func ForwardNode(children ...Node) Node { return Node{Kind: KindForward, Children: children} }

// DepthPlaceholder is emitted in place of forward layers deeper than the
// configured limit.
const DepthPlaceholder = "[nested forward omitted]"

// Limits bounds the output of Flatten.
type Limits struct {
	MaxDepth int // forward nesting levels to descend into
	MaxText  int // total text budget in bytes
	MaxMedia int // media reference cap
}

// Flatten walks the node tree breadth-first by depth and returns the
// concatenated text and collected media references. Top-level content is
// extracted before nested layers, so when the text budget runs out it is the
// deeply buried quotes that get cut. The item that crosses MaxText is still
// included whole; media past MaxMedia is dropped silently. Layers at or
// beyond MaxDepth contribute DepthPlaceholder instead of their content.
func Flatten(nodes []Node, lim Limits) (string, []string) {
	if len(nodes) == 0 {
		return "", nil
	}

	var (
		parts     []string
		media     []string
		level     = nodes
		textLen   int
		truncated bool
	)

	for depth := 0; len(level) > 0; depth++ {
		var next []Node
		for _, n := range level {
			switch n.Kind {
			case KindText:
				if truncated || n.Text == "" {
					continue
				}
				parts = append(parts, n.Text)
				textLen += len(n.Text)
				if lim.MaxText > 0 && textLen >= lim.MaxText {
					truncated = true
				}
			case KindMedia:
				if lim.MaxMedia > 0 && len(media) >= lim.MaxMedia {
					continue
				}
				media = append(media, n.Media)
			case KindForward:
				if depth+1 >= lim.MaxDepth {
					if !truncated {
						parts = append(parts, DepthPlaceholder)
						textLen += len(DepthPlaceholder)
						if lim.MaxText > 0 && textLen >= lim.MaxText {
							truncated = true
						}
					}
					continue
				}
				next = append(next, n.Children...)
			}
		}
		level = next
	}

	return join(parts), media
}

func join(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, p...)
	}
	return string(b)
}
