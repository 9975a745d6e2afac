// Package collab invites users to shared lists and lists their
// collaborators.
package collab

import (
	"context"
	"errors"
	"strings"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/model"
)

var (
	ErrEmailRequired       = errors.New("email is required")
	ErrListRequired        = errors.New("list id is required")
	ErrUserNotFound        = errors.New("user not found")
	ErrAlreadyCollaborator = errors.New("already a collaborator")
)

type Manager struct {
	Store backend.Store
}

func NewManager(store backend.Store) *Manager {
	return &Manager{Store: store}
}

// Invite adds the user registered under email to the list as a member and
// returns the refreshed collaborator listing.
func (m *Manager) Invite(ctx context.Context, listID, email string) ([]model.Collaborator, error) {
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return nil, ErrListRequired
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	profile, err := m.FindProfile(ctx, email)
	if err != nil {
		return nil, err
	}

	existing, err := m.Store.Select(ctx, backend.TableCollaborators, backend.Query{
		Columns: []string{"id"},
		Filter:  backend.Filter{backend.Eq("shared_todo_id", listID), backend.Eq("user_id", profile.ID)},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrAlreadyCollaborator
	}

	_, err = m.Store.Insert(ctx, backend.TableCollaborators, backend.Row{
		"shared_todo_id": listID,
		"user_id":        profile.ID,
		"role":           model.RoleMember,
		"is_read":        false,
	})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			return nil, ErrAlreadyCollaborator
		}
		return nil, err
	}
	return m.ListCollaborators(ctx, listID)
}

// FindProfile resolves an email case-insensitively to the first matching
// profile.
func (m *Manager) FindProfile(ctx context.Context, email string) (model.Profile, error) {
	rows, err := m.Store.Select(ctx, backend.TableProfiles, backend.Query{
		Filter: backend.Filter{backend.ILike("email", email)},
		Order:  []backend.Order{{Column: "created_at"}},
		Limit:  1,
	})
	if err != nil {
		return model.Profile{}, err
	}
	if len(rows) == 0 {
		return model.Profile{}, ErrUserNotFound
	}
	var p model.Profile
	if err := backend.Decode(rows[0], &p); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

// ListCollaborators returns the collaborators of a list joined with their
// profiles, oldest first. A list without collaborators yields an empty
// slice.
func (m *Manager) ListCollaborators(ctx context.Context, listID string) ([]model.Collaborator, error) {
	if strings.TrimSpace(listID) == "" {
		return nil, ErrListRequired
	}
	rows, err := m.Store.Select(ctx, backend.TableCollaborators, backend.Query{
		Filter: backend.Filter{backend.Eq("shared_todo_id", listID)},
		Order:  []backend.Order{{Column: "created_at"}},
	})
	if err != nil {
		return nil, err
	}
	collaborators, err := backend.DecodeAll[model.Collaborator](rows)
	if err != nil {
		return nil, err
	}
	if len(collaborators) == 0 {
		return collaborators, nil
	}

	ids := make([]string, 0, len(collaborators))
	for _, c := range collaborators {
		ids = append(ids, c.UserID)
	}
	profiles, err := m.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range collaborators {
		if p, ok := profiles[collaborators[i].UserID]; ok {
			collaborators[i].Profile = &p
		}
	}
	return collaborators, nil
}

func (m *Manager) profiles(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	rows, err := m.Store.Select(ctx, backend.TableProfiles, backend.Query{
		Filter: backend.Filter{backend.In("id", ids...)},
	})
	if err != nil {
		return nil, err
	}
	decoded, err := backend.DecodeAll[model.Profile](rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Profile, len(decoded))
	for _, p := range decoded {
		out[p.ID] = p
	}
	return out, nil
}
