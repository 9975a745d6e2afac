package identity

import (
	"context"
	"errors"
	"time"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/model"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

type RefreshToken struct {
	TokenID   string     `db:"id"`
	UserID    string     `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// Active reports whether the token can still be exchanged at now.
func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type Repository interface {
	CreateUser(ctx context.Context, user User, fullName string) error
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, userID string) (User, error)
	FindProfile(ctx context.Context, userID string) (model.Profile, error)

	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenID string, at time.Time) error
}

// StoreRepository keeps users, profiles and refresh tokens in the same
// table store as the task lists.
type StoreRepository struct {
	Store backend.Store
}

func NewStoreRepository(store backend.Store) *StoreRepository {
	return &StoreRepository{Store: store}
}

// CreateUser inserts the credential row and the public profile. A duplicate
// email surfaces as backend.ErrConflict.
func (r *StoreRepository) CreateUser(ctx context.Context, user User, fullName string) error {
	if _, err := r.Store.Insert(ctx, backend.TableUsers, backend.Row{
		"id":            user.ID,
		"email":         user.Email,
		"password_hash": user.PasswordHash,
	}); err != nil {
		return err
	}
	_, err := r.Store.Insert(ctx, backend.TableProfiles, backend.Row{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": fullName,
	})
	return err
}

func (r *StoreRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findUser(ctx, backend.Eq("email", email))
}

func (r *StoreRepository) FindUserByID(ctx context.Context, userID string) (User, error) {
	return r.findUser(ctx, backend.Eq("id", userID))
}

func (r *StoreRepository) findUser(ctx context.Context, cond backend.Cond) (User, error) {
	var u User
	if err := r.first(ctx, backend.TableUsers, cond, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (r *StoreRepository) FindProfile(ctx context.Context, userID string) (model.Profile, error) {
	var p model.Profile
	if err := r.first(ctx, backend.TableProfiles, backend.Eq("id", userID), &p); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

func (r *StoreRepository) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	_, err := r.Store.Insert(ctx, backend.TableRefreshTokens, backend.Row{
		"id":         token.TokenID,
		"user_id":    token.UserID,
		"token_hash": token.TokenHash,
		"expires_at": token.ExpiresAt,
		"revoked_at": nil,
	})
	return err
}

func (r *StoreRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var rt RefreshToken
	if err := r.first(ctx, backend.TableRefreshTokens, backend.Eq("token_hash", tokenHash), &rt); err != nil {
		return RefreshToken{}, err
	}
	return rt, nil
}

func (r *StoreRepository) RevokeRefreshToken(ctx context.Context, tokenID string, at time.Time) error {
	return r.Store.Update(ctx, backend.TableRefreshTokens,
		backend.Row{"revoked_at": at},
		backend.Filter{backend.Eq("id", tokenID)},
	)
}

func (r *StoreRepository) first(ctx context.Context, table string, cond backend.Cond, out any) error {
	rows, err := r.Store.Select(ctx, table, backend.Query{Filter: backend.Filter{cond}, Limit: 1})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return backend.Decode(rows[0], out)
}
