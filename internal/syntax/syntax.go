// Package syntax wraps tree-sitter's Rust grammar behind the handful of
// traversal primitives the analyzers need: first matching child, first
// matching descendant in pre-order, all matching descendants, ancestor tests
// and the raw text of a node's span.
package syntax

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// Node kinds produced by the Rust grammar that the analyzers look for.
const (
	KindCallExpression = "call_expression"
	KindConstItem      = "const_item"
	KindEnumItem       = "enum_item"
	KindFunctionItem   = "function_item"
	KindIdentifier     = "identifier"
	KindParameter      = "parameter"
	KindParameters     = "parameters"
	KindTypeIdentifier = "type_identifier"
)

// Tree is a parsed source file. It owns the source bytes its nodes refer to.
type Tree struct {
	tree *sitter.Tree
	src  []byte
}

// Parse parses Rust source. tree-sitter is error tolerant: malformed input
// still yields a tree (with ERROR nodes), so an error here means the parse
// itself was interrupted.
func Parse(ctx context.Context, src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(rust.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("syntax: parse: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("syntax: parse: no tree produced")
	}
	return &Tree{tree: tree, src: src}, nil
}

// Root returns the root node of the tree.
func (t *Tree) Root() Node {
	return Node{n: t.tree.RootNode(), src: t.src}
}

// Source returns the bytes the tree was parsed from.
func (t *Tree) Source() []byte { return t.src }

// Position is a 0-based (row, column) location; column counts bytes.
type Position struct {
	Line   int
	Column int
}

// Node is a lightweight handle on a tree-sitter node plus its source.
// The zero Node is "no node".
type Node struct {
	n   *sitter.Node
	src []byte
}

// Predicate selects nodes during traversal.
type Predicate func(Node) bool

// OfKind matches nodes of the given kind.
func OfKind(kind string) Predicate {
	return func(n Node) bool { return n.Kind() == kind }
}

// IsZero reports whether n is the zero Node.
func (n Node) IsZero() bool { return n.n == nil }

// Kind returns the grammar node type, e.g. "call_expression".
func (n Node) Kind() string {
	if n.n == nil {
		return ""
	}
	return n.n.Type()
}

// Text returns the raw source text spanned by n.
func (n Node) Text() string {
	if n.n == nil {
		return ""
	}
	return n.n.Content(n.src)
}

// StartPosition returns where n begins.
func (n Node) StartPosition() Position {
	if n.n == nil {
		return Position{}
	}
	p := n.n.StartPoint()
	return Position{Line: int(p.Row), Column: int(p.Column)}
}

// Children returns the direct children of n, named and anonymous, in order.
func (n Node) Children() []Node {
	if n.n == nil {
		return nil
	}
	count := int(n.n.ChildCount())
	out := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if c := n.n.Child(i); c != nil {
			out = append(out, Node{n: c, src: n.src})
		}
	}
	return out
}

// Parent returns the parent of n, or the zero Node at the root.
func (n Node) Parent() Node {
	if n.n == nil {
		return Node{}
	}
	p := n.n.Parent()
	if p == nil || p.IsNull() {
		return Node{}
	}
	return Node{n: p, src: n.src}
}

// FirstChild returns the first direct child matching pred.
func (n Node) FirstChild(pred Predicate) (Node, bool) {
	for _, c := range n.Children() {
		if pred(c) {
			return c, true
		}
	}
	return Node{}, false
}

// FirstOccurrence returns the first node matching pred in a pre-order walk
// that starts at (and includes) n.
func (n Node) FirstOccurrence(pred Predicate) (Node, bool) {
	var found Node
	n.walk(func(c Node) bool {
		if pred(c) {
			found = c
			return false
		}
		return true
	})
	return found, !found.IsZero()
}

// AllOccurrences returns every node matching pred, at any depth, in pre-order
// starting at (and including) n.
func (n Node) AllOccurrences(pred Predicate) []Node {
	var out []Node
	n.walk(func(c Node) bool {
		if pred(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// HasAncestor reports whether any proper ancestor of n matches pred.
func (n Node) HasAncestor(pred Predicate) bool {
	for p := n.Parent(); !p.IsZero(); p = p.Parent() {
		if pred(p) {
			return true
		}
	}
	return false
}

// walk visits n and its descendants in pre-order with an explicit stack,
// stopping as soon as visit returns false.
func (n Node) walk(visit func(Node) bool) {
	if n.IsZero() {
		return
	}
	stack := []Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(cur) {
			return
		}
		children := cur.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}
