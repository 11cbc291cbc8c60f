package bank

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokPunct:
		return "punctuation"
	}
	return "end of file"
}

type token struct {
	kind tokenKind
	text string
	num  int64
	line int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of file"
	}
	return strconv.Quote(t.text)
}

type lexState int

const (
	lexStart lexState = iota
	lexIdent
	lexNumber
	lexString
	lexSlash
	lexLineComment
	lexBlockComment
	lexBlockStar
)

const punctuation = "{}[]()=;,"

type lexer struct {
	file string
	src  []byte
	pos  int
	line int
}

func newLexer(file string, src []byte) *lexer {
	return &lexer{file: file, src: src, line: 1}
}

func (l *lexer) errorf(format string, args ...any) error {
	return newParseError(l.file, l.line, format, args...)
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool { return isIdentStart(c) || isDigit(c) }

// next returns the next token. Each call runs the state machine from lexStart
// until a token is complete.
func (l *lexer) next() (token, error) {
	state := lexStart
	var buf []byte
	startLine := l.line
	for {
		ok := l.pos < len(l.src)
		var c byte
		if ok {
			c = l.src[l.pos]
		}

		switch state {
		case lexStart:
			if !ok {
				return token{kind: tokEOF, line: l.line}, nil
			}
			startLine = l.line
			switch {
			case c == '\n':
				l.line++
				l.pos++
			case c == ' ' || c == '\t' || c == '\r':
				l.pos++
			case c == '#':
				state = lexLineComment
				l.pos++
			case c == '/':
				state = lexSlash
				l.pos++
			case c == '"':
				state = lexString
				l.pos++
			case isIdentStart(c):
				state = lexIdent
			case isDigit(c) || c == '-':
				state = lexNumber
				buf = append(buf, c)
				l.pos++
			case strings.IndexByte(punctuation, c) >= 0:
				l.pos++
				return token{kind: tokPunct, text: string(c), line: startLine}, nil
			default:
				return token{}, l.errorf("unexpected character %q", c)
			}

		case lexIdent:
			if ok && isIdentChar(c) {
				buf = append(buf, c)
				l.pos++
				continue
			}
			return token{kind: tokIdent, text: string(buf), line: startLine}, nil

		case lexNumber:
			if ok && isIdentChar(c) {
				buf = append(buf, c)
				l.pos++
				continue
			}
			n, err := strconv.ParseInt(string(buf), 0, 64)
			if err != nil {
				return token{}, l.errorf("invalid number %q", buf)
			}
			return token{kind: tokNumber, text: string(buf), num: n, line: startLine}, nil

		case lexString:
			if !ok || c == '\n' {
				return token{}, l.errorf("unterminated string")
			}
			l.pos++
			if c == '"' {
				return token{kind: tokString, text: string(buf), line: startLine}, nil
			}
			buf = append(buf, c)

		case lexSlash:
			switch {
			case ok && c == '/':
				state = lexLineComment
			case ok && c == '*':
				state = lexBlockComment
			default:
				return token{}, l.errorf("unexpected character '/'")
			}
			l.pos++

		case lexLineComment:
			if !ok || c == '\n' {
				state = lexStart
				continue
			}
			l.pos++

		case lexBlockComment, lexBlockStar:
			if !ok {
				return token{}, newParseError(l.file, startLine, "unterminated comment")
			}
			l.pos++
			if c == '\n' {
				l.line++
			}
			switch {
			case state == lexBlockStar && c == '/':
				state = lexStart
			case c == '*':
				state = lexBlockStar
			default:
				state = lexBlockComment
			}
		}
	}
}
