// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/qbmirror/qbmirror/internal/dbinterface"
	"github.com/qbmirror/qbmirror/internal/domain"
)

var ErrSessionNotFound = errors.New("session credentials not found")

// Session holds the persisted connection credentials for the remote
// qBittorrent instance. Only one session row exists; the mirror, cursor and
// selection state are in-memory and rebuilt from a full snapshot on every
// new session.
type Session struct {
	BaseURL           string `json:"baseUrl"`
	Username          string `json:"username"`
	PasswordEncrypted string `json:"-"`
	TLSSkipVerify     bool   `json:"tlsSkipVerify"`

	UpdatedAt time.Time `json:"updatedAt"`
}

func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		BaseURL       string    `json:"baseUrl"`
		Username      string    `json:"username"`
		Password      string    `json:"password,omitempty"`
		TLSSkipVerify bool      `json:"tlsSkipVerify"`
		UpdatedAt     time.Time `json:"updatedAt"`
	}{
		BaseURL:       s.BaseURL,
		Username:      s.Username,
		Password:      domain.RedactString(s.PasswordEncrypted),
		TLSSkipVerify: s.TLSSkipVerify,
		UpdatedAt:     s.UpdatedAt,
	})
}

type SessionStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewSessionStore(db dbinterface.Querier, encryptionKey []byte) (*SessionStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &SessionStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// encrypt encrypts a string using AES-GCM
func (s *SessionStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a string encrypted with encrypt
func (s *SessionStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// validateAndNormalizeBaseURL validates and normalizes the remote WebAPI base URL
func validateAndNormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return "", errors.New("base URL cannot be empty")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// Save upserts the single session row. The password is encrypted at rest.
func (s *SessionStore) Save(ctx context.Context, rawBaseURL, username, password string, tlsSkipVerify bool) (*Session, error) {
	baseURL, err := validateAndNormalizeBaseURL(rawBaseURL)
	if err != nil {
		return nil, err
	}

	encryptedPassword, err := s.encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	var updatedAt time.Time
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, base_url, username, password_encrypted, tls_skip_verify, updated_at)
		VALUES (1, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			base_url = excluded.base_url,
			username = excluded.username,
			password_encrypted = excluded.password_encrypted,
			tls_skip_verify = excluded.tls_skip_verify,
			updated_at = CURRENT_TIMESTAMP
		RETURNING updated_at
	`, baseURL, username, encryptedPassword, tlsSkipVerify).Scan(&updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &Session{
		BaseURL:           baseURL,
		Username:          username,
		PasswordEncrypted: encryptedPassword,
		TLSSkipVerify:     tlsSkipVerify,
		UpdatedAt:         updatedAt,
	}, nil
}

// Get returns the stored session, or ErrSessionNotFound when no credentials
// have been saved yet.
func (s *SessionStore) Get(ctx context.Context) (*Session, error) {
	session := &Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT base_url, username, password_encrypted, tls_skip_verify, updated_at
		FROM sessions WHERE id = 1
	`).Scan(
		&session.BaseURL,
		&session.Username,
		&session.PasswordEncrypted,
		&session.TLSSkipVerify,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// Delete clears the stored credentials. Deleting when nothing is stored is a
// no-op.
func (s *SessionStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetDecryptedPassword decrypts the stored password for transport use.
func (s *SessionStore) GetDecryptedPassword(session *Session) (string, error) {
	password, err := s.decrypt(session.PasswordEncrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	return password, nil
}
