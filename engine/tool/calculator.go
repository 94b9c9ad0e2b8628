package tool

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/answergrid/answergrid/engine/schema"
)

// Calculator evaluates arithmetic expressions, including percentage
// phrasings like "17% of 4500".
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

func (c *Calculator) Name() string {
	return "calculator"
}

func (c *Calculator) Description() string {
	return "Evaluates arithmetic expressions such as \"42 * 17\" or \"17% of 4500\". " +
		"Supports +, -, *, /, parentheses, and percentages."
}

func (c *Calculator) ParamsSchema() *schema.Schema {
	return &schema.Schema{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "The arithmetic expression to evaluate",
			},
		},
		"required": []any{"expression"},
	}
}

func (c *Calculator) Call(_ context.Context, args map[string]any) (string, error) {
	expression, ok := args["expression"].(string)
	if !ok || strings.TrimSpace(expression) == "" {
		return "", fmt.Errorf("expression argument is required")
	}
	value, err := Evaluate(expression)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(value, 'f', -1, 64), nil
}

var percentOfPattern = regexp.MustCompile(`(?i)^\s*([\d.]+)\s*%\s*of\s*([\d,.]+)\s*$`)

// Evaluate computes an arithmetic expression.
func Evaluate(expression string) (float64, error) {
	if m := percentOfPattern.FindStringSubmatch(expression); m != nil {
		part, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", m[1])
		}
		whole, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", m[2])
		}
		return part / 100 * whole, nil
	}
	p := &exprParser{input: strings.ReplaceAll(expression, ",", "")}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

// exprParser is a small recursive descent parser: expr -> term -> factor.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	value, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch {
		case p.peek() == '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value += rhs
		case p.peek() == '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	value, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch {
		case p.peek() == '*':
			p.pos++
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case p.peek() == '/':
			p.pos++
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpaces()
	if p.peek() == '-' {
		p.pos++
		value, err := p.parseFactor()
		return -value, err
	}
	if p.peek() == '(' {
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return p.applyPercent(value), nil
	}
	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected a number at position %d", p.pos)
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return p.applyPercent(value), nil
}

// applyPercent folds a trailing % sign into the value ("20%" -> 0.2).
func (p *exprParser) applyPercent(value float64) float64 {
	p.skipSpaces()
	if p.peek() == '%' {
		p.pos++
		return value / 100
	}
	return value
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
