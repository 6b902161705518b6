package flow

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/op"
)

// Parse builds an op graph from a composition expression. The vocabulary is
// closed: identifiers resolve through the registry, keyword arguments bind
// literal values, and nothing is evaluated.
//
//	retrieve(top_k=5) >> compact() >> (summarize() | extract(kind="tool"))
//
// ">>" chains ops sequentially and binds tighter than "|", which groups
// branches for parallel fan-out.
func Parse(expr string, reg *Registry) (op.Op, error) {
	p := &parser{lex: newLexer(expr), reg: reg}
	root, err := p.parseParallel()
	if err != nil {
		return nil, err
	}
	if tok := p.lex.next(); tok.kind != tokEOF {
		return nil, exprErr("unexpected %q after expression", tok.text)
	}
	return root, nil
}

func exprErr(format string, args ...any) error {
	return errors.Newf(errors.CodeInvalidArguments, "expression: "+format, args...)
}

type parser struct {
	lex *lexer
	reg *Registry
}

// parseParallel := parseSequence ('|' parseSequence)*
func (p *parser) parseParallel() (op.Op, error) {
	first, err := p.parseSequence()
	if err != nil {
		return nil, err
	}
	branches := []op.Op{first}
	for p.lex.accept(tokPipe) {
		next, err := p.parseSequence()
		if err != nil {
			return nil, err
		}
		branches = append(branches, next)
	}
	if len(branches) == 1 {
		return first, nil
	}
	return op.FanOut(branches[0], branches[1:]...)
}

// parseSequence := parseFactor ('>>' parseFactor)*
func (p *parser) parseSequence() (op.Op, error) {
	first, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	steps := []op.Op{first}
	for p.lex.accept(tokThen) {
		next, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		steps = append(steps, next)
	}
	if len(steps) == 1 {
		return first, nil
	}
	return op.Then(steps[0], steps[1:]...)
}

// parseFactor := call | '(' parseParallel ')'
func (p *parser) parseFactor() (op.Op, error) {
	if p.lex.accept(tokLParen) {
		inner, err := p.parseParallel()
		if err != nil {
			return nil, err
		}
		if !p.lex.accept(tokRParen) {
			return nil, exprErr("missing closing parenthesis")
		}
		return inner, nil
	}
	return p.parseCall()
}

// parseCall := IDENT '(' [kwargs] ')'
func (p *parser) parseCall() (op.Op, error) {
	name := p.lex.next()
	if name.kind != tokIdent {
		return nil, exprErr("expected op name, got %q", name.text)
	}
	if !p.lex.accept(tokLParen) {
		return nil, exprErr("op %q must be called with parentheses", name.text)
	}

	args := make(map[string]any)
	if !p.lex.accept(tokRParen) {
		for {
			key := p.lex.next()
			if key.kind != tokIdent {
				return nil, exprErr("expected argument name in %q call, got %q", name.text, key.text)
			}
			if !p.lex.accept(tokEq) {
				return nil, exprErr("argument %q in %q call needs '='", key.text, name.text)
			}
			val, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			args[key.text] = val
			if p.lex.accept(tokComma) {
				continue
			}
			if p.lex.accept(tokRParen) {
				break
			}
			return nil, exprErr("malformed argument list in %q call", name.text)
		}
	}
	return p.reg.Op(name.text, args)
}

func (p *parser) parseValue() (any, error) {
	tok := p.lex.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		if strings.ContainsAny(tok.text, ".eE") {
			return strconv.ParseFloat(tok.text, 64)
		}
		n, err := strconv.Atoi(tok.text)
		return n, err
	case tokIdent:
		switch tok.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		// Bare identifiers bind as strings.
		return tok.text, nil
	default:
		return nil, exprErr("expected a literal value, got %q", tok.text)
	}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokEq
	tokThen // >>
	tokPipe // |
	tokBad
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	input  string
	pos    int
	peeked *token
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() token {
	if l.peeked != nil {
		t := *l.peeked
		l.peeked = nil
		return t
	}
	return l.scan()
}

func (l *lexer) peek() token {
	if l.peeked == nil {
		t := l.scan()
		l.peeked = &t
	}
	return *l.peeked
}

// accept consumes the next token when it matches kind.
func (l *lexer) accept(kind tokenKind) bool {
	if l.peek().kind == kind {
		l.next()
		return true
	}
	return false
}

func (l *lexer) scan() token {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{kind: tokEOF, text: "<eof>"}
	}

	ch := l.input[l.pos]
	switch {
	case ch == '(':
		l.pos++
		return token{tokLParen, "("}
	case ch == ')':
		l.pos++
		return token{tokRParen, ")"}
	case ch == ',':
		l.pos++
		return token{tokComma, ","}
	case ch == '=':
		l.pos++
		return token{tokEq, "="}
	case ch == '|':
		l.pos++
		return token{tokPipe, "|"}
	case ch == '>':
		if strings.HasPrefix(l.input[l.pos:], ">>") {
			l.pos += 2
			return token{tokThen, ">>"}
		}
		l.pos++
		return token{tokBad, ">"}
	case ch == '"' || ch == '\'':
		return l.scanString(ch)
	case ch == '-' || (ch >= '0' && ch <= '9'):
		return l.scanNumber()
	case isIdentStart(ch):
		return l.scanIdent()
	default:
		l.pos++
		return token{tokBad, string(ch)}
	}
}

func (l *lexer) scanString(quote byte) token {
	l.pos++ // opening quote
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] != quote {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{tokBad, l.input[start:]}
	}
	text := l.input[start:l.pos]
	l.pos++ // closing quote
	return token{tokString, text}
}

func (l *lexer) scanNumber() token {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == 'e' || ch == 'E' {
			l.pos++
			continue
		}
		break
	}
	return token{tokNumber, l.input[start:l.pos]}
}

func (l *lexer) scanIdent() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	return token{tokIdent, l.input[start:l.pos]}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
