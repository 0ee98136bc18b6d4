package locate

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

var (
	templateQuery = []byte("(template_string) @target")
	captureName   = "target"
)

// Grammars known to the syntax strategy, keyed by the name used in the
// syntax_languages configuration.
var grammars = map[string]func() *sitter.Language{
	"javascript": javascript.GetLanguage,
	"typescript": typescript.GetLanguage,
	"tsx":        tsx.GetLanguage,
}

// KnownGrammar reports whether name can be used as a syntax grammar.
func KnownGrammar(name string) bool {
	_, ok := grammars[name]
	return ok
}

type grammar struct {
	lang  *sitter.Language
	query *sitter.Query
	pool  sync.Pool
}

// SyntaxMatcher parses buffers with tree-sitter and finds template literals.
// Parsers are pooled per grammar and created on first use.
type SyntaxMatcher struct {
	mu       sync.Mutex
	grammars map[string]*grammar
}

func NewSyntaxMatcher() *SyntaxMatcher {
	return &SyntaxMatcher{grammars: make(map[string]*grammar)}
}

func (m *SyntaxMatcher) grammar(name string) (*grammar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.grammars[name]; ok {
		return g, nil
	}
	newLang, ok := grammars[name]
	if !ok {
		return nil, fmt.Errorf("unknown grammar %q", name)
	}
	lang := newLang()
	query, err := sitter.NewQuery(templateQuery, lang)
	if err != nil {
		return nil, fmt.Errorf("failed to compile template query for %s: %w", name, err)
	}
	g := &grammar{lang: lang, query: query}
	g.pool.New = func() interface{} {
		parser := sitter.NewParser()
		parser.SetLanguage(lang)
		return parser
	}
	m.grammars[name] = g
	return g, nil
}

// Match returns the body of the outermost template literal whose span contains
// offset, without its backtick delimiters.
func (m *SyntaxMatcher) Match(ctx context.Context, grammarName, content string, offset int) (Interval, bool, error) {
	g, err := m.grammar(grammarName)
	if err != nil {
		return Interval{}, false, err
	}

	parser := g.pool.Get().(*sitter.Parser)
	defer g.pool.Put(parser)

	source := []byte(content)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return Interval{}, false, fmt.Errorf("failed to parse buffer: %w", err)
	}
	defer tree.Close()

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(g.query, tree.RootNode())

	var outer *sitter.Node
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, source)
		for _, c := range match.Captures {
			if g.query.CaptureNameForId(c.Index) != captureName {
				continue
			}
			node := c.Node
			start, end := int(node.StartByte()), int(node.EndByte())
			if offset < start || offset >= end || !delimited(source, start, end) {
				continue
			}
			if outer == nil || start < int(outer.StartByte()) {
				outer = node
			}
		}
	}

	if outer == nil {
		return Interval{}, false, nil
	}
	return Interval{Start: int(outer.StartByte()) + 1, End: int(outer.EndByte()) - 1}, true, nil
}

// delimited rejects template nodes recovered from unterminated literals.
func delimited(source []byte, start, end int) bool {
	return end-start >= 2 && source[start] == '`' && source[end-1] == '`'
}

func (m *SyntaxMatcher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, g := range m.grammars {
		g.query.Close()
		delete(m.grammars, name)
	}
}
