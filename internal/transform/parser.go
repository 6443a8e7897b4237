package transform

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"testloom/internal/logging"
)

// StatementKind classifies a top-level or block-level statement.
type StatementKind int

const (
	StmtOther      StatementKind = iota // imports, declarations, anything unrecognized
	StmtNavigation                      // a goto call with a literal URL
	StmtAction                          // a page interaction (click, fill, ...)
)

// Statement is one statement of a captured or generated test source.
type Statement struct {
	Node      *sitter.Node
	Kind      StatementKind
	Verb      string // goto, click, fill, ...
	URL       string // navigation target, empty for non-navigation statements
	StartByte int
	EndByte   int
	Line      int // 1-based
}

// Comment is a comment node with its position.
type Comment struct {
	Text      string
	StartByte int
	EndByte   int
	Line      int // 1-based
}

// actionVerbs are the interaction methods emitted by the recorder.
var actionVerbs = map[string]bool{
	"click":         true,
	"dblclick":      true,
	"fill":          true,
	"type":          true,
	"press":         true,
	"check":         true,
	"uncheck":       true,
	"selectOption":  true,
	"hover":         true,
	"clear":         true,
	"setInputFiles": true,
}

// Parser parses test source using tree-sitter. Not safe for concurrent use;
// each pipeline component owns its own instance.
type Parser struct {
	inner *sitter.Parser
}

// NewParser creates a parser for the generated spec dialect.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(typescript.GetLanguage())
	return &Parser{inner: p}
}

// Close releases resources held by the parser.
func (p *Parser) Close() {
	p.inner.Close()
}

// Parse parses source into a Script. The returned Script must be closed.
func (p *Parser) Parse(ctx context.Context, source string) (*Script, error) {
	src := []byte(source)
	tree, err := p.inner.ParseCtx(ctx, nil, src)
	if err != nil {
		logging.TransformError("parse failed: %v", err)
		return nil, err
	}
	return &Script{tree: tree, src: src}, nil
}

// Script wraps a parsed source tree.
type Script struct {
	tree *sitter.Tree
	src  []byte
}

// Close releases the underlying tree.
func (s *Script) Close() {
	s.tree.Close()
}

// Root returns the root node.
func (s *Script) Root() *sitter.Node {
	return s.tree.RootNode()
}

// HasError reports whether the source failed to parse cleanly.
func (s *Script) HasError() bool {
	return s.tree.RootNode().HasError()
}

// Text returns the source text of a node.
func (s *Script) Text(n *sitter.Node) string {
	return n.Content(s.src)
}

// Source returns the raw bytes the script was parsed from.
func (s *Script) Source() []byte {
	return s.src
}

// Statements collects every statement directly inside the program or a
// statement block, in source order. Comments are not statements.
func (s *Script) Statements() []Statement {
	var stmts []Statement

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if parent := n.Parent(); parent != nil {
			pt := parent.Type()
			if (pt == "program" || pt == "statement_block") && n.IsNamed() && n.Type() != "comment" {
				stmts = append(stmts, s.classify(n))
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(s.Root())

	return stmts
}

// classify inspects a statement node and identifies navigations and actions.
func (s *Script) classify(n *sitter.Node) Statement {
	stmt := Statement{
		Node:      n,
		Kind:      StmtOther,
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		Line:      int(n.StartPoint().Row) + 1,
	}

	if n.Type() != "expression_statement" || n.NamedChildCount() == 0 {
		return stmt
	}
	expr := n.NamedChild(0)
	if expr.Type() == "await_expression" && expr.NamedChildCount() > 0 {
		expr = expr.NamedChild(0)
	}
	if expr.Type() != "call_expression" {
		return stmt
	}

	fn := expr.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return stmt
	}
	prop := fn.ChildByFieldName("property")
	if prop == nil {
		return stmt
	}
	verb := s.Text(prop)
	stmt.Verb = verb

	args := expr.ChildByFieldName("arguments")

	switch {
	case verb == "goto":
		if url, ok := s.stringArgAt(args, 0); ok {
			stmt.Kind = StmtNavigation
			stmt.URL = url
		}
	case actionVerbs[verb]:
		stmt.Kind = StmtAction
	}

	return stmt
}

// Comments collects every comment node in source order.
func (s *Script) Comments() []Comment {
	var comments []Comment

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "comment" {
			comments = append(comments, Comment{
				Text:      s.Text(n),
				StartByte: int(n.StartByte()),
				EndByte:   int(n.EndByte()),
				Line:      int(n.StartPoint().Row) + 1,
			})
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(s.Root())

	return comments
}

// TestBodyRange locates the body of the first test('...', async ... => { })
// call and returns the byte range strictly inside its braces.
func (s *Script) TestBodyRange() (start, end int, ok bool) {
	var body *sitter.Node

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if body != nil {
			return
		}
		if n.Type() == "call_expression" {
			fn := n.ChildByFieldName("function")
			if fn != nil && fn.Type() == "identifier" && s.Text(fn) == "test" {
				if args := n.ChildByFieldName("arguments"); args != nil {
					for i := 0; i < int(args.NamedChildCount()); i++ {
						arg := args.NamedChild(i)
						if arg.Type() == "arrow_function" || arg.Type() == "function" {
							if b := arg.ChildByFieldName("body"); b != nil && b.Type() == "statement_block" {
								body = b
								return
							}
						}
					}
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(s.Root())

	if body == nil {
		return 0, 0, false
	}
	// Inside the braces: past the opening '{', before the closing '}'.
	return int(body.StartByte()) + 1, int(body.EndByte()) - 1, true
}

// stringArgAt returns the i-th argument if it is a plain string literal.
func (s *Script) stringArgAt(args *sitter.Node, i int) (string, bool) {
	if args == nil || i >= int(args.NamedChildCount()) {
		return "", false
	}
	arg := args.NamedChild(i)
	if arg.Type() != "string" {
		return "", false
	}
	return unquote(s.Text(arg)), true
}

// unquote strips matching string delimiters and resolves simple escapes.
func unquote(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	q := raw[0]
	if (q != '\'' && q != '"' && q != '`') || raw[len(raw)-1] != q {
		return raw
	}
	inner := raw[1 : len(raw)-1]
	if !strings.ContainsRune(inner, '\\') {
		return inner
	}

	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' || i == len(inner)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch inner[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(inner[i])
		}
	}
	return b.String()
}
