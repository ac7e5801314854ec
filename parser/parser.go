package parser

import (
	"fmt"
	"strconv"
)

// Parser turns a token stream from Lexer into the Statement/Expr nodes in
// ast.go: a compact recursive-descent parser covering SELECT/INSERT/
// UPDATE/DELETE with WHERE clauses of AND/OR-joined comparisons. Grounded
// on NovusDB's parser.go (same token set, same descent structure) but
// scoped down to what fsqlite's codegen compiles to VDBE bytecode — no
// JOIN, GROUP BY, or subquery support.
type Parser struct {
	lexer      *Lexer
	current    Token
	peek       Token
	paramIndex int
}

// NewParser creates a parser for input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.current = p.lexer.NextToken()
	p.peek = p.lexer.NextToken()
	return p
}

func (p *Parser) advance() {
	p.current = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) expect(tt TokenType, what string) (Token, error) {
	if p.current.Type != tt {
		return Token{}, fmt.Errorf("parser: expected %s, got %q at pos %d", what, p.current.Literal, p.current.Pos)
	}
	tok := p.current
	p.advance()
	return tok, nil
}

// Parse parses exactly one statement.
func (p *Parser) Parse() (Statement, error) {
	switch p.current.Type {
	case TokenSelect:
		return p.parseSelect()
	case TokenInsert:
		return p.parseInsert()
	case TokenUpdate:
		return p.parseUpdate()
	case TokenDelete:
		return p.parseDelete()
	default:
		return nil, fmt.Errorf("parser: unsupported statement starting with %q", p.current.Literal)
	}
}

func (p *Parser) parseSelect() (*SelectStatement, error) {
	p.advance() // consume SELECT
	stmt := &SelectStatement{Limit: -1}

	if p.current.Type == TokenDistinct {
		stmt.Distinct = true
		p.advance()
	}

	cols, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if _, err := p.expect(TokenFrom, "FROM"); err != nil {
		return nil, err
	}
	tbl, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	stmt.From = tbl.Literal

	if p.current.Type == TokenWhere {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.current.Type == TokenLimit {
		p.advance()
		n, err := p.expect(TokenInteger, "LIMIT value")
		if err != nil {
			return nil, err
		}
		stmt.Limit, _ = strconv.Atoi(n.Literal)
	}

	return stmt, nil
}

func (p *Parser) parseSelectColumns() ([]Expr, error) {
	if p.current.Type == TokenStar {
		p.advance()
		return []Expr{&IdentExpr{Name: "*"}}, nil
	}
	var cols []Expr
	for {
		e, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		cols = append(cols, e)
		if p.current.Type != TokenComma {
			break
		}
		p.advance()
	}
	return cols, nil
}

func (p *Parser) parseInsert() (*InsertStatement, error) {
	p.advance() // consume INSERT
	orReplace := false
	if p.current.Type == TokenOr {
		p.advance() // consume OR; REPLACE must follow
		if _, err := p.expect(TokenReplace, "REPLACE"); err != nil {
			return nil, err
		}
		orReplace = true
	} else if p.current.Type == TokenReplace {
		orReplace = true
		p.advance()
	}
	if _, err := p.expect(TokenInto, "INTO"); err != nil {
		return nil, err
	}
	tbl, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: tbl.Literal, OrReplace: orReplace}

	var fields []string
	if p.current.Type == TokenLParen {
		p.advance()
		for {
			id, err := p.expect(TokenIdent, "column name")
			if err != nil {
				return nil, err
			}
			fields = append(fields, id.Literal)
			if p.current.Type == TokenComma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(TokenValues, "VALUES"); err != nil {
		return nil, err
	}

	for {
		row, err := p.parseValuesTuple(fields)
		if err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		break
	}
	if len(stmt.Rows) > 0 {
		stmt.Fields = stmt.Rows[0]
	}
	return stmt, nil
}

func (p *Parser) parseValuesTuple(fields []string) ([]FieldAssignment, error) {
	if _, err := p.expect(TokenLParen, "("); err != nil {
		return nil, err
	}
	var row []FieldAssignment
	i := 0
	for {
		v, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		var fieldName string
		if i < len(fields) {
			fieldName = fields[i]
		} else {
			fieldName = fmt.Sprintf("col%d", i+1)
		}
		row = append(row, FieldAssignment{Field: &IdentExpr{Name: fieldName}, Value: v})
		i++
		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen, ")"); err != nil {
		return nil, err
	}
	return row, nil
}

func (p *Parser) parseUpdate() (*UpdateStatement, error) {
	p.advance() // consume UPDATE
	tbl, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: tbl.Literal}
	if _, err := p.expect(TokenSet, "SET"); err != nil {
		return nil, err
	}
	for {
		id, err := p.expect(TokenIdent, "column name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenEQ, "="); err != nil {
			return nil, err
		}
		val, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, FieldAssignment{Field: &IdentExpr{Name: id.Literal}, Value: val})
		if p.current.Type == TokenComma {
			p.advance()
			continue
		}
		break
	}
	if p.current.Type == TokenWhere {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStatement, error) {
	p.advance() // consume DELETE
	if _, err := p.expect(TokenFrom, "FROM"); err != nil {
		return nil, err
	}
	tbl, err := p.expect(TokenIdent, "table name")
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: tbl.Literal}
	if p.current.Type == TokenWhere {
		p.advance()
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// parseExpr parses an OR-joined sequence of AND-joined comparisons.
func (p *Parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: TokenOr, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.current.Type == TokenAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: TokenAnd, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	if p.current.Type == TokenNot {
		p.advance()
		e, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: e}, nil
	}
	if p.current.Type == TokenLParen {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	}

	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op := p.current.Type
	switch op {
	case TokenEQ, TokenNEQ, TokenLT, TokenLTE, TokenGT, TokenGTE:
	default:
		return left, nil
	}
	p.advance()
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Left: left, Op: op, Right: right}, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.current
	switch tok.Type {
	case TokenInteger, TokenFloat, TokenString, TokenTrue, TokenFalse, TokenNull:
		p.advance()
		return &LiteralExpr{Token: tok}, nil
	case TokenParam:
		p.advance()
		idx := p.paramIndex
		p.paramIndex++
		return &ParamExpr{Index: idx}, nil
	case TokenIdent:
		p.advance()
		name := tok.Literal
		if p.current.Type == TokenDot {
			parts := []string{name}
			for p.current.Type == TokenDot {
				p.advance()
				id, err := p.expect(TokenIdent, "identifier")
				if err != nil {
					return nil, err
				}
				parts = append(parts, id.Literal)
			}
			return &DotExpr{Parts: parts}, nil
		}
		return &IdentExpr{Name: name}, nil
	case TokenMinus:
		p.advance()
		e, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: &LiteralExpr{Token: Token{Type: TokenInteger, Literal: "0"}}, Op: TokenMinus, Right: e}, nil
	default:
		return nil, fmt.Errorf("parser: unexpected token %q at pos %d", tok.Literal, tok.Pos)
	}
}
