// Package locate finds the embedded region under a cursor.
//
// Two strategies exist. A configured regular expression with three capture
// groups (open delimiter, body, close delimiter) takes priority; otherwise
// languages with a tree-sitter grammar are parsed and the outermost template
// literal around the cursor is used.
package locate

import (
	"context"
	"fmt"
	"regexp"
)

// Interval is a half-open byte interval into the buffer text.
type Interval struct {
	Start int
	End   int
}

// ConfigError reports a configured expression that cannot be used.
type ConfigError struct {
	Language string
	Pattern  string
	Err      error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pattern for language %q (%s): %v", e.Language, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Source supplies the per-language configuration the locator consults.
type Source interface {
	// Pattern returns the expression configured for language.
	Pattern(language string) (string, bool)
	// Grammar returns the name of the tree-sitter grammar for language.
	Grammar(language string) (string, bool)
}

// Locator picks a strategy for the buffer's language and runs it.
type Locator struct {
	source Source
	syntax *SyntaxMatcher
}

func NewLocator(source Source) *Locator {
	return &Locator{
		source: source,
		syntax: NewSyntaxMatcher(),
	}
}

// Locate returns the embedded region containing offset. A miss is reported with
// ok == false and a nil error.
func (l *Locator) Locate(ctx context.Context, language, content string, offset int) (Interval, bool, error) {
	if expr, ok := l.source.Pattern(language); ok {
		re, err := CompilePattern(language, expr)
		if err != nil {
			return Interval{}, false, err
		}
		iv, ok := MatchPattern(re, content, offset)
		return iv, ok, nil
	}

	if grammar, ok := l.source.Grammar(language); ok {
		return l.syntax.Match(ctx, grammar, content, offset)
	}
	return Interval{}, false, nil
}

func (l *Locator) Close() {
	l.syntax.Close()
}

// CompilePattern compiles expr and checks that it declares the three groups
// the pattern strategy relies on.
func CompilePattern(language, expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &ConfigError{Language: language, Pattern: expr, Err: err}
	}
	if n := re.NumSubexp(); n < 3 {
		return nil, &ConfigError{
			Language: language,
			Pattern:  expr,
			Err:      fmt.Errorf("expected 3 capture groups, found %d", n),
		}
	}
	return re, nil
}

// MatchPattern returns the second group of the first match of re around offset.
// Matches in which any of the first three groups did not participate are
// skipped. A cursor on either edge of a match still selects it.
func MatchPattern(re *regexp.Regexp, content string, offset int) (Interval, bool) {
	for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
		if m[0] > offset || offset > m[1] {
			continue
		}
		if m[2] < 0 || m[4] < 0 || m[6] < 0 {
			continue
		}
		return Interval{Start: m[4], End: m[5]}, true
	}
	return Interval{}, false
}
