package backend

import (
	"fmt"
	"strings"
	"time"
)

type Op string

const (
	OpEq    Op = "eq"
	OpILike Op = "ilike"
	OpIn    Op = "in"
)

// Cond is a single column predicate. For OpIn, Values holds the candidates.
type Cond struct {
	Column string
	Op     Op
	Value  any
	Values []string
}

// Filter is a conjunction of conditions.
type Filter []Cond

func Eq(column string, value any) Cond {
	return Cond{Column: column, Op: OpEq, Value: value}
}

// ILike matches a SQL LIKE pattern case-insensitively.
func ILike(column, pattern string) Cond {
	return Cond{Column: column, Op: OpILike, Value: pattern}
}

func In(column string, values ...string) Cond {
	copied := make([]string, len(values))
	copy(copied, values)
	return Cond{Column: column, Op: OpIn, Values: copied}
}

// Match reports whether row satisfies every condition.
func (f Filter) Match(row Row) bool {
	for _, c := range f {
		if !c.Match(row) {
			return false
		}
	}
	return true
}

func (c Cond) Match(row Row) bool {
	v, ok := row[c.Column]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return valuesEqual(v, c.Value)
	case OpILike:
		pattern, _ := c.Value.(string)
		return likeMatch(strings.ToLower(pattern), strings.ToLower(stringify(v)))
	case OpIn:
		s := stringify(v)
		for _, candidate := range c.Values {
			if candidate == s {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// EqValue returns the value of the first equality condition on column.
func (f Filter) EqValue(column string) (any, bool) {
	for _, c := range f {
		if c.Column == column && c.Op == OpEq {
			return c.Value, true
		}
	}
	return nil, false
}

// Columns lists every column referenced by f.
func (f Filter) Columns() []string {
	out := make([]string, 0, len(f))
	for _, c := range f {
		out = append(out, c.Column)
	}
	return out
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return stringify(a) == stringify(b)
}

// ValueString renders a column value the way filters compare it.
func ValueString(v any) string {
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// likeMatch implements SQL LIKE: % matches any run, _ matches one rune.
func likeMatch(pattern, s string) bool {
	p := []rune(pattern)
	r := []rune(s)
	pi, ri := 0, 0
	starP, starR := -1, 0
	for ri < len(r) {
		switch {
		case pi < len(p) && (p[pi] == '_' || p[pi] == r[ri]):
			pi++
			ri++
		case pi < len(p) && p[pi] == '%':
			starP = pi
			starR = ri
			pi++
		case starP >= 0:
			pi = starP + 1
			starR++
			ri = starR
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '%' {
		pi++
	}
	return pi == len(p)
}
