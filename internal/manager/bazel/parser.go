package bazel

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"relock/internal/fragment"
)

// ParseWorkspace parses WORKSPACE content and returns one record per
// external-repository call whose rule name passes the prefilter. Each
// record carries a "rule" field plus the call's keyword arguments.
// WORKSPACE files are Starlark, which the python grammar parses fine;
// constructs the grammar trips over are simply skipped. A fresh parser
// is built per call so concurrent extractions never share one.
func ParseWorkspace(ctx context.Context, content []byte) ([]*fragment.Record, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var records []*fragment.Record
	collectCalls(tree.RootNode(), content, &records)
	return records, nil
}

// collectCalls walks the tree looking for rule calls. A matched call
// becomes a fragment and its subtree is not descended into.
func collectCalls(node *sitter.Node, content []byte, records *[]*fragment.Record) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "call" {
			if rec := callFragment(child, content); rec != nil {
				*records = append(*records, rec)
				continue
			}
		}
		collectCalls(child, content, records)
	}
}

// callFragment builds a record from a call node when the callee is a
// supported rule. maybe(rule, ...) wrappers are unwrapped first.
func callFragment(node *sitter.Node, content []byte) *fragment.Record {
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")
	if fn == nil || args == nil || fn.Type() != "identifier" {
		return nil
	}

	rule := text(fn, content)
	if rule == "maybe" {
		rule = maybeRule(args, content)
	}
	if rule == "" || !SupportedRule(rule) {
		return nil
	}

	rec := fragment.NewRecord()
	rec.Set("rule", fragment.NewString(rule))

	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() != "keyword_argument" {
			continue
		}
		key := arg.ChildByFieldName("name")
		value := arg.ChildByFieldName("value")
		if key == nil || value == nil {
			continue
		}
		if frag := valueFragment(value, content); frag != nil {
			rec.Set(text(key, content), frag)
		}
	}
	return rec
}

// maybeRule returns the rule identifier of a maybe(rule, ...) call.
func maybeRule(args *sitter.Node, content []byte) string {
	if args.NamedChildCount() == 0 {
		return ""
	}
	first := args.NamedChild(0)
	if first.Type() != "identifier" {
		return ""
	}
	return text(first, content)
}

// valueFragment converts string literals, string concatenations, and
// lists of strings. Other value kinds (numbers, booleans, dicts,
// nested calls) carry nothing a target validates, so they are dropped.
func valueFragment(node *sitter.Node, content []byte) fragment.Fragment {
	switch node.Type() {
	case "list":
		arr := fragment.NewArray()
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if s, ok := stringValue(node.NamedChild(i), content); ok {
				arr.Items = append(arr.Items, fragment.NewString(s))
			}
		}
		return arr
	default:
		if s, ok := stringValue(node, content); ok {
			return fragment.NewString(s)
		}
	}
	return nil
}

// stringValue evaluates a node to a string: plain literals, "+"
// concatenations, and parenthesized forms of either.
func stringValue(node *sitter.Node, content []byte) (string, bool) {
	switch node.Type() {
	case "string":
		return stringLiteral(text(node, content))

	case "binary_operator":
		op := node.ChildByFieldName("operator")
		left := node.ChildByFieldName("left")
		right := node.ChildByFieldName("right")
		if op == nil || left == nil || right == nil || text(op, content) != "+" {
			return "", false
		}
		lv, ok := stringValue(left, content)
		if !ok {
			return "", false
		}
		rv, ok := stringValue(right, content)
		if !ok {
			return "", false
		}
		return lv + rv, true

	case "parenthesized_expression":
		if node.NamedChildCount() != 1 {
			return "", false
		}
		return stringValue(node.NamedChild(0), content)
	}
	return "", false
}

// stringLiteral strips the quotes from a string literal's source text.
func stringLiteral(raw string) (string, bool) {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return raw[len(q) : len(raw)-len(q)], true
		}
	}
	return "", false
}

func text(n *sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}
