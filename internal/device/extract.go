package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/SoftengPoliTo/hazard-analyzer/internal/hazard"
	"github.com/SoftengPoliTo/hazard-analyzer/internal/syntax"
)

const (
	actionsEnum    = "Actions"
	constructor    = "new"
	allowedHazards = "ALLOWED_HAZARDS"
)

// Extract builds the contract of a single device source. ok is false when the
// file declares neither an Actions enum nor a new() constructor; such files are
// not devices and are skipped without error.
func Extract(ctx context.Context, src Source) (Contract, bool, error) {
	tree, err := syntax.Parse(ctx, src.Code)
	if err != nil {
		return Contract{}, false, fmt.Errorf("device: extract %s: %w", src.Name, err)
	}
	root := tree.Root()

	var mandatory Mandatory
	if enum, ok := root.FirstChild(withChild(syntax.KindEnumItem, syntax.KindTypeIdentifier, actionsEnum)); ok {
		mandatory = Mandatory{Style: Named, Actions: namedActions(root, enum)}
	} else if fn, ok := root.FirstOccurrence(withChild(syntax.KindFunctionItem, syntax.KindIdentifier, constructor)); ok {
		mandatory = Mandatory{Style: Positional, Actions: positionalActions(root, fn)}
	} else {
		return Contract{}, false, nil
	}

	return Contract{
		Name:           src.Name,
		Mandatory:      mandatory,
		AllowedHazards: constHazards(root, allowedHazards),
	}, true, nil
}

// namedActions reads the variants of the Actions enum in declaration order.
func namedActions(root, enum syntax.Node) []Action {
	variants := enum.AllOccurrences(syntax.OfKind(syntax.KindIdentifier))
	actions := make([]Action, 0, len(variants))
	for _, v := range variants {
		name := SnakeCase(v.Text())
		actions = append(actions, Action{
			Name:            name,
			RequiredHazards: constHazards(root, ConstKey(name)),
		})
	}
	return actions
}

// positionalActions reads the constructor's parameter names in order.
func positionalActions(root, fn syntax.Node) []Action {
	params, ok := fn.FirstChild(syntax.OfKind(syntax.KindParameters))
	if !ok {
		return []Action{}
	}
	var actions []Action
	for _, p := range params.AllOccurrences(syntax.OfKind(syntax.KindParameter)) {
		id, ok := p.FirstChild(syntax.OfKind(syntax.KindIdentifier))
		if !ok {
			continue
		}
		name := id.Text()
		actions = append(actions, Action{
			Name:            name,
			RequiredHazards: constHazards(root, ConstKey(name)),
		})
	}
	if actions == nil {
		actions = []Action{}
	}
	return actions
}

// constHazards harvests the hazards of the constant named key. A constant
// whose name is exactly key wins; otherwise the first constant whose text
// mentions key is used. No constant means no hazards.
func constHazards(root syntax.Node, key string) hazard.Set {
	item, ok := root.FirstOccurrence(withChild(syntax.KindConstItem, syntax.KindIdentifier, key))
	if !ok {
		item, ok = root.FirstOccurrence(func(n syntax.Node) bool {
			return n.Kind() == syntax.KindConstItem && strings.Contains(n.Text(), key)
		})
	}
	if !ok {
		return hazard.New()
	}
	return hazard.FromText(item.Text())
}

// withChild matches a node of kind whose direct child of childKind has
// exactly text as its source.
func withChild(kind, childKind, text string) syntax.Predicate {
	return func(n syntax.Node) bool {
		if n.Kind() != kind {
			return false
		}
		_, ok := n.FirstChild(func(c syntax.Node) bool {
			return c.Kind() == childKind && c.Text() == text
		})
		return ok
	}
}
