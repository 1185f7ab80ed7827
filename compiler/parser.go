package compiler

import "strconv"

// ---------------------------------------------------------------------------
// Parser: recursive descent over S-expressions
// ---------------------------------------------------------------------------

// Parser parses lilium source into expressions.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	prevEnd   Position // end of the last consumed token
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.prevEnd = p.curToken.End()
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect consumes a token of type t or fails.
func (p *Parser) expect(t TokenType, context string) error {
	if p.curTokenIs(t) {
		p.nextToken()
		return nil
	}
	return p.unexpected(context)
}

func (p *Parser) unexpected(context string) error {
	tok := p.curToken
	switch tok.Type {
	case TokenError:
		return errorAt(tok.Pos, ErrSyntax, "", "%s", tok.Literal)
	case TokenEOF:
		return errorAt(tok.Pos, ErrSyntax, "", "unexpected end of input, %s", context)
	}
	return errorAt(tok.Pos, ErrSyntax, "", "unexpected %s, %s", tok, context)
}

// Parse parses a whole program: a sequence of top-level expressions and
// function definitions.
func Parse(source string) ([]Expr, error) {
	return NewParser(source).ParseProgram()
}

// ParseProgram parses expressions until end of input.
func (p *Parser) ParseProgram() ([]Expr, error) {
	var exprs []Expr
	for !p.curTokenIs(TokenEOF) {
		var (
			e   Expr
			err error
		)
		if p.curTokenIs(TokenLParen) && p.peekToken.Type == TokenSymbol && p.peekToken.Literal == KeywordDef {
			e, err = p.parseDef()
		} else {
			e, err = p.ParseExpression()
		}
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

// ParseExpression parses a single expression. Function definitions are
// rejected here; they are only valid at top level.
func (p *Parser) ParseExpression() (Expr, error) {
	tok := p.curToken
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, errorAt(tok.Pos, ErrSyntax, tok.Literal, "%v", err)
		}
		return &IntLiteral{SpanVal: MakeSpan(tok.Pos, tok.End()), Value: v}, nil

	case TokenSymbol:
		if IsKeyword(tok.Literal) {
			return nil, errorAt(tok.Pos, ErrSyntax, tok.Literal, "keyword used as a variable")
		}
		p.nextToken()
		return &Variable{SpanVal: MakeSpan(tok.Pos, tok.End()), Name: tok.Literal}, nil

	case TokenLParen:
		return p.parseForm()
	}
	return nil, p.unexpected("expected an expression")
}

func (p *Parser) parseForm() (Expr, error) {
	start := p.curToken.Pos
	p.nextToken() // (

	head := p.curToken
	if head.Type != TokenSymbol {
		return nil, p.unexpected("expected an operator, keyword or function name")
	}

	switch head.Literal {
	case KeywordDef:
		return nil, errorAt(head.Pos, ErrSyntax, KeywordDef, "function definitions are only allowed at top level")
	case KeywordLet:
		return p.parseLet(start)
	case KeywordIf:
		return p.parseIf(start)
	case KeywordWrite:
		p.nextToken()
		v, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen, "expected ) after write operand"); err != nil {
			return nil, err
		}
		return &Write{SpanVal: MakeSpan(start, p.prevEnd), Value: v}, nil
	case KeywordRead:
		p.nextToken()
		if err := p.expect(TokenRParen, "read takes no operands"); err != nil {
			return nil, err
		}
		return &Read{SpanVal: MakeSpan(start, p.prevEnd)}, nil
	}

	p.nextToken()
	args, err := p.parseExprsUntilRParen()
	if err != nil {
		return nil, err
	}
	span := MakeSpan(start, p.prevEnd)

	if isOperator(head.Literal) {
		switch {
		case head.Literal == "!" && len(args) == 1:
			return &UnaryOp{SpanVal: span, Op: head.Literal, Operand: args[0]}, nil
		case head.Literal != "!" && len(args) == 2:
			return &BinaryOp{SpanVal: span, Op: head.Literal, Left: args[0], Right: args[1]}, nil
		case head.Literal == "!":
			return nil, errorAt(head.Pos, ErrArity, head.Literal, "expects 1 operand, got %d", len(args))
		default:
			return nil, errorAt(head.Pos, ErrArity, head.Literal, "expects 2 operands, got %d", len(args))
		}
	}

	return &Call{
		SpanVal:  span,
		Name:     head.Literal,
		NameSpan: MakeSpan(head.Pos, head.End()),
		Args:     args,
	}, nil
}

// parseExprsUntilRParen parses expressions up to and including the closing paren.
func (p *Parser) parseExprsUntilRParen() ([]Expr, error) {
	var exprs []Expr
	for !p.curTokenIs(TokenRParen) {
		if p.curTokenIs(TokenEOF) {
			return nil, p.unexpected("expected )")
		}
		e, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	p.nextToken() // )
	return exprs, nil
}

// parseBody parses one or more expressions up to the closing paren.
func (p *Parser) parseBody(form string) ([]Expr, error) {
	if p.curTokenIs(TokenRParen) {
		return nil, p.unexpected("expected a body for " + form)
	}
	return p.parseExprsUntilRParen()
}

func (p *Parser) parseDef() (Expr, error) {
	start := p.curToken.Pos
	p.nextToken() // (
	p.nextToken() // def

	name := p.curToken
	if name.Type != TokenSymbol || isOperator(name.Literal) {
		return nil, p.unexpected("expected a function name")
	}
	if IsKeyword(name.Literal) {
		return nil, errorAt(name.Pos, ErrSyntax, name.Literal, "keyword used as a function name")
	}
	p.nextToken()

	if err := p.expect(TokenLParen, "expected parameter list"); err != nil {
		return nil, err
	}
	var params []string
	seen := make(map[string]bool)
	for !p.curTokenIs(TokenRParen) {
		tok := p.curToken
		if tok.Type != TokenSymbol || isOperator(tok.Literal) || IsKeyword(tok.Literal) {
			return nil, p.unexpected("expected a parameter name")
		}
		if seen[tok.Literal] {
			return nil, errorAt(tok.Pos, ErrSyntax, tok.Literal, "duplicate parameter")
		}
		seen[tok.Literal] = true
		params = append(params, tok.Literal)
		p.nextToken()
	}
	p.nextToken() // )

	body, err := p.parseBody("def")
	if err != nil {
		return nil, err
	}
	return &FuncDef{
		SpanVal:  MakeSpan(start, p.prevEnd),
		Name:     name.Literal,
		NameSpan: MakeSpan(name.Pos, name.End()),
		Params:   params,
		Body:     body,
	}, nil
}

func (p *Parser) parseLet(start Position) (Expr, error) {
	p.nextToken() // let
	if err := p.expect(TokenLParen, "expected binding list"); err != nil {
		return nil, err
	}

	var bindings []LetBinding
	for !p.curTokenIs(TokenRParen) {
		bstart := p.curToken.Pos
		if err := p.expect(TokenLParen, "expected (name value) binding"); err != nil {
			return nil, err
		}
		name := p.curToken
		if name.Type != TokenSymbol || isOperator(name.Literal) || IsKeyword(name.Literal) {
			return nil, p.unexpected("expected a variable name")
		}
		p.nextToken()
		init, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen, "expected ) after binding"); err != nil {
			return nil, err
		}
		bindings = append(bindings, LetBinding{
			SpanVal: MakeSpan(bstart, p.prevEnd),
			Name:    name.Literal,
			Init:    init,
		})
	}
	p.nextToken() // )

	body, err := p.parseBody("let")
	if err != nil {
		return nil, err
	}
	return &Let{SpanVal: MakeSpan(start, p.prevEnd), Bindings: bindings, Body: body}, nil
}

func (p *Parser) parseIf(start Position) (Expr, error) {
	p.nextToken() // if
	cond, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}

	branch := func(which string) ([]Expr, error) {
		if err := p.expect(TokenLParen, "expected ("+which+" expressions...)"); err != nil {
			return nil, err
		}
		return p.parseBody(which + " branch")
	}

	then, err := branch("then")
	if err != nil {
		return nil, err
	}
	els, err := branch("else")
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenRParen, "expected ) after if branches"); err != nil {
		return nil, err
	}
	return &If{SpanVal: MakeSpan(start, p.prevEnd), Cond: cond, Then: then, Else: els}, nil
}

func isOperator(s string) bool {
	for _, r := range s {
		if !IsOperatorChar(r) {
			return false
		}
	}
	return s != ""
}
