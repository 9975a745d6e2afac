// Package sqlbuild renders backend queries into parameterized SQL. Column
// and table identifiers must be validated against the backend schema before
// they reach a Builder; only values travel as arguments.
package sqlbuild

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tasklists/project/internal/backend"
)

type Builder struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// ILike is the case-insensitive LIKE operator of the dialect.
	ILike string
	// Value converts a Go value into a driver argument. Nil means identity.
	Value func(v any) any
}

func Dollar(n int) string { return "$" + strconv.Itoa(n) }

func Question(int) string { return "?" }

// Statement is a rendered query and its arguments.
type Statement struct {
	SQL  string
	Args []any
}

func (b Builder) arg(v any) any {
	if b.Value == nil {
		return v
	}
	return b.Value(v)
}

func (b Builder) where(f backend.Filter, args []any) (string, []any) {
	if len(f) == 0 {
		return "", args
	}
	parts := make([]string, 0, len(f))
	for _, c := range f {
		switch c.Op {
		case backend.OpILike:
			args = append(args, b.arg(c.Value))
			parts = append(parts, fmt.Sprintf("%s %s %s", c.Column, b.ILike, b.Placeholder(len(args))))
		case backend.OpIn:
			if len(c.Values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			marks := make([]string, 0, len(c.Values))
			for _, v := range c.Values {
				args = append(args, v)
				marks = append(marks, b.Placeholder(len(args)))
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(marks, ", ")))
		default:
			if c.Value == nil {
				parts = append(parts, c.Column+" IS NULL")
				continue
			}
			args = append(args, b.arg(c.Value))
			parts = append(parts, fmt.Sprintf("%s = %s", c.Column, b.Placeholder(len(args))))
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func (b Builder) Select(table string, q backend.Query) Statement {
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ", ")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, table)
	where, args := b.where(q.Filter, nil)
	sb.WriteString(where)
	if len(q.Order) > 0 {
		terms := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			terms = append(terms, o.Column+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return Statement{SQL: sb.String(), Args: args}
}

func (b Builder) Insert(table string, row backend.Row) Statement {
	cols := sortedKeys(row)
	marks := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		args = append(args, b.arg(row[c]))
		marks = append(marks, b.Placeholder(len(args)))
	}
	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			table, strings.Join(cols, ", "), strings.Join(marks, ", ")),
		Args: args,
	}
}

func (b Builder) Update(table string, patch backend.Row, filter backend.Filter) Statement {
	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		args = append(args, b.arg(patch[c]))
		sets = append(sets, fmt.Sprintf("%s = %s", c, b.Placeholder(len(args))))
	}
	where, args := b.where(filter, args)
	return Statement{
		SQL:  fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", table, strings.Join(sets, ", "), where),
		Args: args,
	}
}

func (b Builder) Delete(table string, filter backend.Filter) Statement {
	where, args := b.where(filter, nil)
	return Statement{
		SQL:  fmt.Sprintf("DELETE FROM %s%s RETURNING *", table, where),
		Args: args,
	}
}

func sortedKeys(row backend.Row) []string {
	out := make([]string, 0, len(row))
	for k := range row {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
