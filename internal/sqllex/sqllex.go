// Package sqllex splits SQL text into a flat token stream. It only knows
// enough of the lexical grammar to tell code apart from string literals,
// quoted identifiers and comments; it does not parse statements.
package sqllex

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a token.
type Kind int

const (
	Word        Kind = iota // unquoted identifier, keyword or @variable
	String                  // '...', N'...', E'...', $tag$...$tag$
	QuotedIdent             // "..." or [...]
	Number
	Comment // -- line or /* block */
	Semicolon
	Punct
)

func (k Kind) String() string {
	switch k {
	case Word:
		return "word"
	case String:
		return "string"
	case QuotedIdent:
		return "quoted identifier"
	case Number:
		return "number"
	case Comment:
		return "comment"
	case Semicolon:
		return "semicolon"
	default:
		return "punctuation"
	}
}

// Token is a lexeme and its byte offset in the source text.
type Token struct {
	Kind   Kind
	Text   string
	Offset int
}

// End returns the byte offset just past the token.
func (t Token) End() int {
	return t.Offset + len(t.Text)
}

// Is reports whether t is the unquoted word kw, ignoring case.
func (t Token) Is(kw string) bool {
	return t.Kind == Word && strings.EqualFold(t.Text, kw)
}

// Options selects dialect-specific lexical rules.
type Options struct {
	BracketIdentifiers bool // [quoted identifier]
	DollarQuoting      bool // $tag$ ... $tag$
	BackslashEscapes   bool // E'...\'...'
	DollarWords        bool // $ may start a word ($action, $10)
}

var (
	TSQL       = Options{BracketIdentifiers: true, DollarWords: true}
	PostgreSQL = Options{DollarQuoting: true, BackslashEscapes: true}
)

// Error is returned when the text cannot be split unambiguously.
type Error struct {
	Offset int
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Offset)
}

// Tokenize splits src into tokens. Whitespace is dropped; comments are kept
// so callers can decide whether they matter.
func Tokenize(src string, opts Options) ([]Token, error) {
	if !utf8.ValidString(src) {
		return nil, &Error{Offset: invalidUTF8Offset(src), Msg: "query is not valid UTF-8"}
	}
	l := &lexer{src: src, opts: opts}
	for l.pos < len(src) {
		if err := l.next(); err != nil {
			return nil, err
		}
	}
	return l.tokens, nil
}

// Significant returns tokens with comments removed.
func Significant(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind != Comment {
			out = append(out, t)
		}
	}
	return out
}

type lexer struct {
	src    string
	pos    int
	opts   Options
	tokens []Token
}

func (l *lexer) emit(kind Kind, start int) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: l.src[start:l.pos], Offset: start})
}

func (l *lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) next() error {
	start := l.pos
	r, size := utf8.DecodeRuneInString(l.src[l.pos:])

	switch {
	case r == 0:
		return &Error{Offset: start, Msg: "NUL byte in query"}
	case unicode.IsSpace(r):
		l.pos += size
		return nil
	case r == '-' && l.peek(1) == '-':
		if i := strings.IndexByte(l.src[l.pos:], '\n'); i >= 0 {
			l.pos += i
		} else {
			l.pos = len(l.src)
		}
		l.emit(Comment, start)
		return nil
	case r == '/' && l.peek(1) == '*':
		return l.blockComment()
	case r == '\'':
		return l.quoted(String, '\'', start, false)
	case r == '"':
		return l.quoted(QuotedIdent, '"', start, false)
	case r == '[' && l.opts.BracketIdentifiers:
		return l.quoted(QuotedIdent, ']', start, false)
	case r == '$' && l.opts.DollarQuoting:
		if ok, err := l.dollarQuoted(); ok || err != nil {
			return err
		}
		l.pos += size
		l.emit(Punct, start)
		return nil
	case r == '\\' && (l.peek(1) == '\n' || l.peek(1) == '\r'):
		return &Error{Offset: start, Msg: "line continuation outside a string literal"}
	case r == ';':
		l.pos += size
		l.emit(Semicolon, start)
		return nil
	case r >= '0' && r <= '9':
		l.number()
		return nil
	case isWordStart(r, l.opts):
		return l.word()
	default:
		l.pos += size
		l.emit(Punct, start)
		return nil
	}
}

// blockComment consumes a possibly nested /* */ comment.
func (l *lexer) blockComment() error {
	start := l.pos
	depth := 0
	for l.pos < len(l.src) {
		switch {
		case l.src[l.pos] == '/' && l.peek(1) == '*':
			depth++
			l.pos += 2
		case l.src[l.pos] == '*' && l.peek(1) == '/':
			depth--
			l.pos += 2
			if depth == 0 {
				l.emit(Comment, start)
				return nil
			}
		default:
			l.pos++
		}
	}
	return &Error{Offset: start, Msg: "unterminated block comment"}
}

// quoted consumes a delimited literal where a doubled closing delimiter is
// an escaped delimiter. l.pos may already be past a prefix such as N or E.
func (l *lexer) quoted(kind Kind, closing byte, start int, backslash bool) error {
	l.pos++ // opening delimiter
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if backslash && c == '\\' {
			l.pos += 2
			continue
		}
		if c == closing {
			if l.peek(1) == closing {
				l.pos += 2
				continue
			}
			l.pos++
			l.emit(kind, start)
			return nil
		}
		l.pos++
	}
	if l.pos > len(l.src) {
		l.pos = len(l.src)
	}
	what := "string literal"
	if kind == QuotedIdent {
		what = "quoted identifier"
	}
	return &Error{Offset: start, Msg: "unterminated " + what}
}

// dollarQuoted consumes $tag$...$tag$. It reports false when the text at
// l.pos is not a dollar-quote opener (e.g. a $1 parameter).
func (l *lexer) dollarQuoted() (bool, error) {
	start := l.pos
	end := strings.IndexByte(l.src[start+1:], '$')
	if end < 0 {
		return false, nil
	}
	tag := l.src[start+1 : start+1+end]
	for i, r := range tag {
		if !(r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r))) {
			return false, nil
		}
	}
	delim := "$" + tag + "$"
	body := start + len(delim)
	closeAt := strings.Index(l.src[body:], delim)
	if closeAt < 0 {
		return true, &Error{Offset: start, Msg: "unterminated dollar-quoted string"}
	}
	l.pos = body + closeAt + len(delim)
	l.emit(String, start)
	return true, nil
}

func (l *lexer) number() {
	start := l.pos
	if l.src[l.pos] == '0' && (l.peek(1) == 'x' || l.peek(1) == 'X') {
		l.pos += 2
		for l.pos < len(l.src) && isHexDigit(l.src[l.pos]) {
			l.pos++
		}
		l.emit(Number, start)
		return
	}
	l.digits()
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		l.digits()
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		save := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.digits()
		} else {
			l.pos = save
		}
	}
	l.emit(Number, start)
}

func (l *lexer) digits() {
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
	}
}

func (l *lexer) word() error {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isWordPart(r) {
			break
		}
		l.pos += size
	}

	// Prefixed string literals: N'..', E'..', B'..', X'..'.
	if l.pos < len(l.src) && l.src[l.pos] == '\'' && l.pos-start == 1 {
		switch l.src[start] {
		case 'N', 'n', 'B', 'b', 'X', 'x':
			return l.quoted(String, '\'', start, false)
		case 'E', 'e':
			return l.quoted(String, '\'', start, l.opts.BackslashEscapes)
		}
	}
	l.emit(Word, start)
	return nil
}

func isWordStart(r rune, opts Options) bool {
	if r == '$' {
		return opts.DollarWords
	}
	return r == '_' || r == '@' || r == '#' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '@' || r == '#' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func invalidUTF8Offset(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
