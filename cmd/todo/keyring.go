package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/tasklists/project/internal/session"
)

const sessionKey = "session"

// sessionStore keeps the signed-in session in the OS keyring.
type sessionStore struct {
	ring keyring.Keyring
}

func openSessionStore(service string) (*sessionStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(home, ".config", service, "keyring"),
		FilePasswordFunc:         keyring.FixedStringPrompt(service),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &sessionStore{ring: ring}, nil
}

// Load returns the stored session, or session.ErrSignedOut when none is kept.
func (s *sessionStore) Load() (session.Session, error) {
	item, err := s.ring.Get(sessionKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return session.Session{}, session.ErrSignedOut
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("reading session: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return session.Session{}, fmt.Errorf("decoding session: %w", err)
	}
	return sess, nil
}

func (s *sessionStore) Save(sess session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.ring.Set(keyring.Item{Key: sessionKey, Data: data, Label: "tasklists session"}); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (s *sessionStore) Clear() error {
	err := s.ring.Remove(sessionKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
