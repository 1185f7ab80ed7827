package compiler

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// MakeSpan creates a span from start to end.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// Contains reports whether the byte offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start.Offset && offset < s.End.Offset
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface implemented by all expression nodes.
type Expr interface {
	Span() Span
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) expr()      {}

// Variable represents a variable reference.
type Variable struct {
	SpanVal Span
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) expr()      {}

// BinaryOp represents (op left right).
type BinaryOp struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *BinaryOp) Span() Span { return n.SpanVal }
func (n *BinaryOp) expr()      {}

// UnaryOp represents (op operand). The only unary operator is "!".
type UnaryOp struct {
	SpanVal Span
	Op      string
	Operand Expr
}

func (n *UnaryOp) Span() Span { return n.SpanVal }
func (n *UnaryOp) expr()      {}

// Call represents (name args...).
type Call struct {
	SpanVal  Span
	Name     string
	NameSpan Span
	Args     []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) expr()      {}

// FuncDef represents (def name (params...) body...).
type FuncDef struct {
	SpanVal  Span
	Name     string
	NameSpan Span
	Params   []string
	Body     []Expr
}

func (n *FuncDef) Span() Span { return n.SpanVal }
func (n *FuncDef) expr()      {}

// LetBinding is one (name init) pair of a let.
type LetBinding struct {
	SpanVal Span
	Name    string
	Init    Expr
}

// Let represents (let ((name init)...) body...).
type Let struct {
	SpanVal  Span
	Bindings []LetBinding
	Body     []Expr
}

func (n *Let) Span() Span { return n.SpanVal }
func (n *Let) expr()      {}

// If represents (if cond (then...) (else...)).
type If struct {
	SpanVal Span
	Cond    Expr
	Then    []Expr
	Else    []Expr
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) expr()      {}

// Write represents (write value). It prints the value and evaluates to it.
type Write struct {
	SpanVal Span
	Value   Expr
}

func (n *Write) Span() Span { return n.SpanVal }
func (n *Write) expr()      {}

// Read represents (read), which evaluates to an integer read from input.
type Read struct {
	SpanVal Span
}

func (n *Read) Span() Span { return n.SpanVal }
func (n *Read) expr()      {}
