package citation

import (
	"github.com/beevik/etree"
)

// NodeKind distinguishes the two node variants produced by Walk.
type NodeKind int

const (
	// ElementNode is an element; Node.Text holds the element's leading text.
	ElementNode NodeKind = iota
	// TextNode is a run of character data, either an element's leading text
	// or the tail following a child element.
	TextNode
)

func (k NodeKind) String() string {
	switch k {
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	default:
		return "unknown"
	}
}

// Node is one item of a document-order walk over an element's descendants.
type Node struct {
	Kind NodeKind

	// Element is set for ElementNode.
	Element *etree.Element

	// Text is the character data of a TextNode, or the leading text
	// (before any child element) of an ElementNode.
	Text string

	// InPersonGroup reports whether the node has a person-group ancestor
	// below the walk root.
	InPersonGroup bool
}

// Walk returns every descendant of root (root excluded) in document order.
// Comments, processing instructions and directives are skipped.
func Walk(root *etree.Element) []Node {
	var nodes []Node
	walk(root, false, &nodes)
	return nodes
}

func walk(parent *etree.Element, inPersonGroup bool, nodes *[]Node) {
	for _, tok := range parent.Child {
		switch t := tok.(type) {
		case *etree.Element:
			*nodes = append(*nodes, Node{
				Kind:          ElementNode,
				Element:       t,
				Text:          t.Text(),
				InPersonGroup: inPersonGroup,
			})
			walk(t, inPersonGroup || t.Tag == personGroupTag, nodes)
		case *etree.CharData:
			*nodes = append(*nodes, Node{
				Kind:          TextNode,
				Text:          t.Data,
				InPersonGroup: inPersonGroup,
			})
		}
	}
}
