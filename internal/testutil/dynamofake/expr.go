package dynamofake

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type tokenizer struct {
	toks []string
	pos  int
}

func tokenize(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')' || c == ',' || c == '+' || c == '-':
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>' || c == '=':
			if i+1 < len(s) && (s[i+1] == '=' || s[i+1] == '>') && c != '=' {
				toks = append(toks, s[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(s) && !unicode.IsSpace(rune(s[j])) && !strings.ContainsRune("(),+-<>=", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

func (t *tokenizer) peek() string {
	if t.pos >= len(t.toks) {
		return ""
	}
	return t.toks[t.pos]
}

func (t *tokenizer) next() string {
	tok := t.peek()
	t.pos++
	return tok
}

func (t *tokenizer) expect(tok string) error {
	if got := t.next(); got != tok {
		return fmt.Errorf("dynamofake: expected %q, got %q", tok, got)
	}
	return nil
}

type evaluator struct {
	tokenizer
	names  map[string]string
	values map[string]types.AttributeValue
	item   map[string]types.AttributeValue
}

// check evaluates a condition expression against item (nil item means "does not exist").
func check(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	e := &evaluator{tokenizer: tokenizer{toks: tokenize(*expr)}, names: names, values: values, item: item}
	ok, err := e.or()
	if err != nil {
		return false, err
	}
	if e.peek() != "" {
		return false, fmt.Errorf("dynamofake: trailing tokens in %q", *expr)
	}
	return ok, nil
}

func (e *evaluator) name(tok string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := e.names[tok]; ok {
			return n
		}
	}
	return tok
}

func (e *evaluator) value(tok string) (types.AttributeValue, error) {
	if strings.HasPrefix(tok, ":") {
		v, ok := e.values[tok]
		if !ok {
			return nil, fmt.Errorf("dynamofake: missing expression value %s", tok)
		}
		return v, nil
	}
	return e.item[e.name(tok)], nil
}

func (e *evaluator) or() (bool, error) {
	left, err := e.and()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(e.peek(), "OR") {
		e.next()
		right, err := e.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (e *evaluator) and() (bool, error) {
	left, err := e.not()
	if err != nil {
		return false, err
	}
	for strings.EqualFold(e.peek(), "AND") {
		e.next()
		right, err := e.not()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (e *evaluator) not() (bool, error) {
	if strings.EqualFold(e.peek(), "NOT") {
		e.next()
		v, err := e.not()
		return !v, err
	}
	return e.primary()
}

func (e *evaluator) primary() (bool, error) {
	tok := e.next()
	switch strings.ToLower(tok) {
	case "(":
		v, err := e.or()
		if err != nil {
			return false, err
		}
		return v, e.expect(")")
	case "attribute_exists", "attribute_not_exists":
		if err := e.expect("("); err != nil {
			return false, err
		}
		_, exists := e.item[e.name(e.next())]
		if err := e.expect(")"); err != nil {
			return false, err
		}
		if strings.ToLower(tok) == "attribute_exists" {
			return exists, nil
		}
		return !exists, nil
	case "contains":
		if err := e.expect("("); err != nil {
			return false, err
		}
		haystack := e.item[e.name(e.next())]
		if err := e.expect(","); err != nil {
			return false, err
		}
		needle, err := e.value(e.next())
		if err != nil {
			return false, err
		}
		if err := e.expect(")"); err != nil {
			return false, err
		}
		return contains(haystack, needle), nil
	}

	left, err := e.value(tok)
	if err != nil {
		return false, err
	}
	op := e.next()
	right, err := e.value(e.next())
	if err != nil {
		return false, err
	}
	if left == nil || right == nil {
		return op == "<>" && (left == nil) != (right == nil), nil
	}
	switch op {
	case "=":
		return equal(left, right), nil
	case "<>":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		c, err := compare(left, right)
		if err != nil {
			return false, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return false, fmt.Errorf("dynamofake: unsupported operator %q", op)
}

// applyUpdate returns a new item with the update expression applied to current (or to key when absent).
func applyUpdate(current, key map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	item := copyItem(current)
	if item == nil {
		item = copyItem(key)
	}
	if expr == nil {
		return item, nil
	}
	e := &evaluator{tokenizer: tokenizer{toks: tokenize(*expr)}, names: names, values: values, item: item}

	for e.peek() != "" {
		clause := strings.ToUpper(e.next())
		switch clause {
		case "SET":
			for {
				attr := e.name(e.next())
				if err := e.expect("="); err != nil {
					return nil, err
				}
				v, err := e.operand()
				if err != nil {
					return nil, err
				}
				for e.peek() == "+" || e.peek() == "-" {
					sign := e.next()
					rhs, err := e.operand()
					if err != nil {
						return nil, err
					}
					if sign == "-" {
						rhs = negate(rhs)
					}
					if v, err = addNumbers(v, rhs); err != nil {
						return nil, err
					}
				}
				item[attr] = v
				if e.peek() != "," {
					break
				}
				e.next()
			}
		case "ADD":
			for {
				attr := e.name(e.next())
				v, err := e.value(e.next())
				if err != nil {
					return nil, err
				}
				merged, err := add(item[attr], v)
				if err != nil {
					return nil, err
				}
				item[attr] = merged
				if e.peek() != "," {
					break
				}
				e.next()
			}
		case "REMOVE":
			for {
				delete(item, e.name(e.next()))
				if e.peek() != "," {
					break
				}
				e.next()
			}
		default:
			return nil, fmt.Errorf("dynamofake: unsupported update clause %q", clause)
		}
	}
	return item, nil
}

func (e *evaluator) operand() (types.AttributeValue, error) {
	tok := e.next()
	if strings.EqualFold(tok, "if_not_exists") {
		if err := e.expect("("); err != nil {
			return nil, err
		}
		existing := e.item[e.name(e.next())]
		if err := e.expect(","); err != nil {
			return nil, err
		}
		fallback, err := e.value(e.next())
		if err != nil {
			return nil, err
		}
		if err := e.expect(")"); err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return fallback, nil
	}
	return e.value(tok)
}

func add(current, delta types.AttributeValue) (types.AttributeValue, error) {
	switch d := delta.(type) {
	case *types.AttributeValueMemberN:
		if current == nil {
			return &types.AttributeValueMemberN{Value: d.Value}, nil
		}
		return addNumbers(current, d)
	case *types.AttributeValueMemberSS:
		set := map[string]struct{}{}
		if cur, ok := current.(*types.AttributeValueMemberSS); ok {
			for _, s := range cur.Value {
				set[s] = struct{}{}
			}
		} else if current != nil {
			return nil, fmt.Errorf("dynamofake: ADD string set onto %T", current)
		}
		for _, s := range d.Value {
			set[s] = struct{}{}
		}
		out := make([]string, 0, len(set))
		for s := range set {
			out = append(out, s)
		}
		sort.Strings(out)
		return &types.AttributeValueMemberSS{Value: out}, nil
	}
	return nil, fmt.Errorf("dynamofake: unsupported ADD operand %T", delta)
}

func addNumbers(a, b types.AttributeValue) (types.AttributeValue, error) {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if !aok || !bok {
		return nil, fmt.Errorf("dynamofake: arithmetic on non-numbers %T %T", a, b)
	}
	x, ok1 := new(big.Float).SetString(an.Value)
	y, ok2 := new(big.Float).SetString(bn.Value)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("dynamofake: bad numbers %q %q", an.Value, bn.Value)
	}
	return &types.AttributeValueMemberN{Value: new(big.Float).Add(x, y).Text('f', -1)}, nil
}

func negate(v types.AttributeValue) types.AttributeValue {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return v
	}
	if strings.HasPrefix(n.Value, "-") {
		return &types.AttributeValueMemberN{Value: n.Value[1:]}
	}
	return &types.AttributeValueMemberN{Value: "-" + n.Value}
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("dynamofake: compare N with %T", b)
		}
		x, _ := new(big.Float).SetString(av.Value)
		y, _ := new(big.Float).SetString(bv.Value)
		return x.Cmp(y), nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, fmt.Errorf("dynamofake: compare S with %T", b)
		}
		return strings.Compare(av.Value, bv.Value), nil
	}
	return 0, fmt.Errorf("dynamofake: unsupported comparison on %T", a)
}

func equal(a, b types.AttributeValue) bool {
	if an, ok := a.(*types.AttributeValueMemberN); ok {
		if bn, ok := b.(*types.AttributeValueMemberN); ok {
			c, err := compare(an, bn)
			return err == nil && c == 0
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func contains(haystack, needle types.AttributeValue) bool {
	switch h := haystack.(type) {
	case *types.AttributeValueMemberSS:
		if s, ok := needle.(*types.AttributeValueMemberS); ok {
			for _, v := range h.Value {
				if v == s.Value {
					return true
				}
			}
		}
	case *types.AttributeValueMemberL:
		for _, v := range h.Value {
			if equal(v, needle) {
				return true
			}
		}
	case *types.AttributeValueMemberS:
		if s, ok := needle.(*types.AttributeValueMemberS); ok {
			return strings.Contains(h.Value, s.Value)
		}
	}
	return false
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	if in == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v types.AttributeValue) types.AttributeValue {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: av.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: av.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: av.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: av.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), av.Value...)}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), av.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), av.Value...)}
	case *types.AttributeValueMemberL:
		out := make([]types.AttributeValue, len(av.Value))
		for i, e := range av.Value {
			out[i] = copyValue(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(av.Value)}
	}
	return v
}
