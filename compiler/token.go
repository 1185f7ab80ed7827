package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the S-expression lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger // 42, -7
	TokenSymbol  // foo, +, <=, !

	// Delimiters
	TokenLParen // (
	TokenRParen // )
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenError:   "ERROR",
	TokenInteger: "INTEGER",
	TokenSymbol:  "SYMBOL",
	TokenLParen:  "(",
	TokenRParen:  ")",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text, or the message for TokenError
	Pos     Position // start position
}

// End returns the position just past the token.
func (t Token) End() Position {
	return Position{
		Offset: t.Pos.Offset + len(t.Literal),
		Line:   t.Pos.Line,
		Column: t.Pos.Column + len(t.Literal),
	}
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords introduce special forms and cannot name functions or variables.
const (
	KeywordDef   = "def"
	KeywordLet   = "let"
	KeywordIf    = "if"
	KeywordWrite = "write"
	KeywordRead  = "read"
)

var keywords = map[string]bool{
	KeywordDef:   true,
	KeywordLet:   true,
	KeywordIf:    true,
	KeywordWrite: true,
	KeywordRead:  true,
}

// IsKeyword reports whether name is reserved for a special form.
func IsKeyword(name string) bool {
	return keywords[name]
}

// Keywords returns the special form names in a stable order.
func Keywords() []string {
	return []string{KeywordDef, KeywordLet, KeywordIf, KeywordWrite, KeywordRead}
}

// IsOperatorChar returns true if r may appear in an operator symbol.
func IsOperatorChar(r rune) bool {
	switch r {
	case '+', '-', '*', '/', '&', '|', '=', '<', '>', '!', '%':
		return true
	}
	return false
}
