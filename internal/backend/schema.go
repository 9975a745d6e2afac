package backend

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

const (
	TableUsers         = "users"
	TableProfiles      = "profiles"
	TableRefreshTokens = "refresh_tokens"
	TableTodos         = "todos"
	TableSharedLists   = "shared_todos"
	TableListItems     = "shared_todo_items"
	TableCollaborators = "collaborators"
)

// Table describes the columns a store accepts for a table. ScopeColumn is
// the column realtime subjects are partitioned by.
type Table struct {
	Name        string
	Columns     []string
	ScopeColumn string
	Unique      [][]string
}

var tables = map[string]Table{
	TableUsers: {
		Name:        TableUsers,
		Columns:     []string{"id", "email", "password_hash", "created_at"},
		ScopeColumn: "id",
		Unique:      [][]string{{"email"}},
	},
	TableProfiles: {
		Name:        TableProfiles,
		Columns:     []string{"id", "email", "full_name", "created_at"},
		ScopeColumn: "id",
	},
	TableRefreshTokens: {
		Name:        TableRefreshTokens,
		Columns:     []string{"id", "user_id", "token_hash", "expires_at", "revoked_at", "created_at"},
		ScopeColumn: "user_id",
		Unique:      [][]string{{"token_hash"}},
	},
	TableTodos: {
		Name:        TableTodos,
		Columns:     []string{"id", "user_id", "title", "is_complete", "created_at"},
		ScopeColumn: "user_id",
	},
	TableSharedLists: {
		Name:        TableSharedLists,
		Columns:     []string{"id", "title", "owner_id", "created_at"},
		ScopeColumn: "owner_id",
	},
	TableListItems: {
		Name:        TableListItems,
		Columns:     []string{"id", "shared_todo_id", "title", "is_complete", "created_at"},
		ScopeColumn: "shared_todo_id",
	},
	TableCollaborators: {
		Name:        TableCollaborators,
		Columns:     []string{"id", "shared_todo_id", "user_id", "role", "is_read", "created_at"},
		ScopeColumn: "shared_todo_id",
		Unique:      [][]string{{"shared_todo_id", "user_id"}},
	},
}

func Lookup(name string) (Table, error) {
	t, ok := tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables returns every table definition sorted by name.
func Tables() []Table {
	out := make([]Table, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Table) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func (t Table) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// CheckColumns rejects any column not declared for the table.
func (t Table) CheckColumns(columns ...string) error {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, t.Name, c)
		}
	}
	return nil
}

// CheckQuery validates every identifier a query references.
func (t Table) CheckQuery(q Query) error {
	if err := t.CheckColumns(q.Columns...); err != nil {
		return err
	}
	if err := t.CheckColumns(q.Filter.Columns()...); err != nil {
		return err
	}
	for _, o := range q.Order {
		if err := t.CheckColumns(o.Column); err != nil {
			return err
		}
	}
	return nil
}

// Stamp fills the server-assigned id and created_at columns when absent.
func Stamp(row Row, newID func() string, now time.Time) Row {
	out := row.Clone()
	if out == nil {
		out = Row{}
	}
	if out.String("id") == "" {
		out["id"] = newID()
	}
	if _, ok := out["created_at"]; !ok {
		out["created_at"] = now
	}
	return out
}

// Project keeps only the requested columns; nil keeps everything.
func Project(row Row, columns []string) Row {
	if len(columns) == 0 {
		return row.Clone()
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}
