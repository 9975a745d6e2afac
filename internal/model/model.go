// Package model holds the records exchanged with the table store.
package model

import (
	"fmt"
	"time"

	"github.com/tasklists/project/internal/backend"
)

const RoleMember = "member"

// Todo is a personal task owned by one user.
type Todo struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Title      string    `db:"title" json:"title"`
	IsComplete bool      `db:"is_complete" json:"is_complete"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (t Todo) RecordID() string { return t.ID }
func (t Todo) Created() time.Time { return t.CreatedAt }
func (t Todo) Completed() bool { return t.IsComplete }
func (t Todo) Label() string { return t.Title }
func (t Todo) WithCompleted(c bool) Todo {
	t.IsComplete = c
	return t
}

// NewRow is the insert payload; id and created_at are assigned by the store.
func (t Todo) NewRow() backend.Row {
	return backend.Row{"user_id": t.UserID, "title": t.Title, "is_complete": t.IsComplete}
}

// Patch holds the mutable columns.
func (t Todo) Patch() backend.Row {
	return backend.Row{"title": t.Title, "is_complete": t.IsComplete}
}

// SharedList is a list that collaborators can read and edit.
type SharedList struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (l SharedList) RecordID() string { return l.ID }
func (l SharedList) Created() time.Time { return l.CreatedAt }

func (l SharedList) NewRow() backend.Row {
	return backend.Row{"title": l.Title, "owner_id": l.OwnerID}
}

func (l SharedList) Patch() backend.Row {
	return backend.Row{"title": l.Title}
}

// ListItem is a task inside a shared list.
type ListItem struct {
	ID         string    `db:"id" json:"id"`
	ListID     string    `db:"shared_todo_id" json:"list_id"`
	Title      string    `db:"title" json:"title"`
	IsComplete bool      `db:"is_complete" json:"is_complete"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (i ListItem) RecordID() string { return i.ID }
func (i ListItem) Created() time.Time { return i.CreatedAt }
func (i ListItem) Completed() bool { return i.IsComplete }
func (i ListItem) Label() string { return i.Title }
func (i ListItem) WithCompleted(c bool) ListItem {
	i.IsComplete = c
	return i
}

func (i ListItem) NewRow() backend.Row {
	return backend.Row{"shared_todo_id": i.ListID, "title": i.Title, "is_complete": i.IsComplete}
}

func (i ListItem) Patch() backend.Row {
	return backend.Row{"title": i.Title, "is_complete": i.IsComplete}
}

// Profile is the public directory entry of a user.
type Profile struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DisplayName prefers the full name, then the email.
func (p Profile) DisplayName() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.Email != "":
		return p.Email
	default:
		return "unknown"
	}
}

// Collaborator is a membership of a user in a shared list.
type Collaborator struct {
	ID        string    `db:"id" json:"id"`
	ListID    string    `db:"shared_todo_id" json:"list_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      string    `db:"role" json:"role"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Profile *Profile `db:"-" json:"profile,omitempty"`
}

func (c Collaborator) RecordID() string { return c.ID }

// Email is the collaborator's email when the profile was joined.
func (c Collaborator) Email() string {
	if c.Profile == nil {
		return ""
	}
	return c.Profile.Email
}

// Notification is an invitation of the current user to a shared list.
type Notification struct {
	ID        string    `json:"id"`
	ListID    string    `json:"list_id"`
	ListTitle string    `json:"list_title"`
	OwnerName string    `json:"owner_name"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (n Notification) Message() string {
	return fmt.Sprintf("You were invited to %q by %s", n.ListTitle, n.OwnerName)
}
