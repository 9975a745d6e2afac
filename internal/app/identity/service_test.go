package identity

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/backend/memory"
	"github.com/tasklists/project/internal/model"
	"github.com/tasklists/project/internal/platform/auth"
	"github.com/tasklists/project/internal/session"
)

type fakeRepo struct {
	users         map[string]User
	refreshByHash map[string]RefreshToken

	createErr error
	findErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         map[string]User{},
		refreshByHash: map[string]RefreshToken{},
	}
}

func (f *fakeRepo) CreateUser(ctx context.Context, user User, fullName string) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return backend.ErrConflict
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeRepo) FindUserByEmail(ctx context.Context, email string) (User, error) {
	if f.findErr != nil {
		return User{}, f.findErr
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeRepo) FindUserByID(ctx context.Context, userID string) (User, error) {
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) FindProfile(ctx context.Context, userID string) (model.Profile, error) {
	u, ok := f.users[userID]
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	return model.Profile{ID: u.ID, Email: u.Email}, nil
}

func (f *fakeRepo) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	f.refreshByHash[token.TokenHash] = token
	return nil
}

func (f *fakeRepo) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	rt, ok := f.refreshByHash[tokenHash]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return rt, nil
}

func (f *fakeRepo) RevokeRefreshToken(ctx context.Context, tokenID string, at time.Time) error {
	for hash, rt := range f.refreshByHash {
		if rt.TokenID == tokenID {
			rt.RevokedAt = &at
			f.refreshByHash[hash] = rt
		}
	}
	return nil
}

var testNow = time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

func testTokenManager() auth.Manager {
	m := auth.NewManager("secret", time.Hour)
	m.Now = func() time.Time { return testNow }
	return m
}

func testService(repo Repository) *Service {
	svc := NewService(repo, testTokenManager())
	next := 0
	svc.NewID = func() string {
		next++
		return "id-" + strconv.Itoa(next)
	}
	svc.Now = func() time.Time { return testNow }
	return svc
}

func TestSignUpSignInRefreshSignOut(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)

	reg, err := svc.SignUp(context.Background(), " Alice@Example.com ", "password123")
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if reg.AccessToken == "" || reg.RefreshToken == "" || reg.UserID == "" {
		t.Fatalf("unexpected sign up response: %+v", reg)
	}
	if reg.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", reg.Email)
	}
	if !reg.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", reg.ExpiresAt)
	}

	login, err := svc.SignIn(context.Background(), "ALICE@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}

	claims, err := svc.Verify(login.AccessToken)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.Subject != reg.UserID || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	refreshed, err := svc.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatal("expected rotated refresh token")
	}
	if _, err := svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected reused token to be rejected, got %v", err)
	}

	if err := svc.SignOut(context.Background(), refreshed.RefreshToken); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
	if err := svc.SignOut(context.Background(), refreshed.RefreshToken); err != nil {
		t.Fatalf("second SignOut should be a no-op, got %v", err)
	}
	if err := svc.SignOut(context.Background(), "unknown"); err != nil {
		t.Fatalf("unknown token should not fail, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := testService(newFakeRepo())

	if _, err := svc.SignUp(context.Background(), "  ", "password123"); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := svc.SignUp(context.Background(), "a@example.com", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := svc.SignUp(context.Background(), "a@example.com", "password123"); err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if _, err := svc.SignUp(context.Background(), "A@example.com", "password123"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	if _, err := svc.SignUp(context.Background(), "a@example.com", "password123"); err != nil {
		t.Fatalf("SignUp error: %v", err)
	}

	cases := []struct{ email, password string }{
		{"a@example.com", "wrong-password"},
		{"b@example.com", "password123"},
		{"", "password123"},
		{"a@example.com", " "},
	}
	for _, tc := range cases {
		if _, err := svc.SignIn(context.Background(), tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("SignIn(%q, %q): expected ErrInvalidCredentials, got %v", tc.email, tc.password, err)
		}
	}

	repo.findErr = errors.New("db down")
	if _, err := svc.SignIn(context.Background(), "a@example.com", "password123"); err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	repo := newFakeRepo()
	svc := testService(repo)
	reg, err := svc.SignUp(context.Background(), "a@example.com", "password123")
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}

	svc.Now = func() time.Time { return testNow.Add(svc.RefreshTTL + time.Second) }
	if _, err := svc.Refresh(context.Background(), reg.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := svc.Refresh(context.Background(), "  "); !errors.Is(err, ErrRefreshTokenMissing) {
		t.Fatalf("expected ErrRefreshTokenMissing, got %v", err)
	}
}

func TestStoreRepositoryRoundTrip(t *testing.T) {
	store := memory.New()
	svc := testService(NewStoreRepository(store))
	svc.NewUserID = func() string { return "user-1" }

	reg, err := svc.Register(context.Background(), "ann@example.com", "password123", "Ann Lee")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if store.Count(backend.TableUsers) != 1 || store.Count(backend.TableProfiles) != 1 {
		t.Fatalf("expected user and profile rows")
	}

	profile, err := svc.Profile(context.Background(), reg.UserID)
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if profile.DisplayName() != "Ann Lee" || profile.Email != "ann@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	svc.NewUserID = func() string { return "user-2" }
	if _, err := svc.SignUp(context.Background(), "ANN@example.com", "password123"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken from store conflict, got %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), reg.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), reg.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
	if err := svc.SignOut(context.Background(), refreshed.RefreshToken); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
}

func TestSessionsAdapterDrivesProvider(t *testing.T) {
	svc := testService(newFakeRepo())
	provider := session.NewProvider(svc.Sessions())

	var seen []*session.Session
	provider.OnChange(func(s *session.Session) { seen = append(seen, s) })

	if _, err := provider.SignUp(context.Background(), "a@example.com", "password123"); err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if cur := provider.Current(); cur == nil || cur.Email != "a@example.com" {
		t.Fatalf("unexpected current session %+v", cur)
	}
	if _, err := provider.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if err := provider.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut error: %v", err)
	}
	if len(seen) != 3 || seen[2] != nil {
		t.Fatalf("unexpected session changes: %+v", seen)
	}
}
