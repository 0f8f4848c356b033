// Package creds stores user accounts and checks passwords. Passwords are
// bcrypt-hashed at rest; the plaintext never leaves Register/Authenticate.
package creds

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Schema for the users table. Apply via dbopen.WithSchema or Init.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL,
	password TEXT NOT NULL,
	role     TEXT NOT NULL
);
`

// User is an account row without the password hash.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Service manages the users table.
type Service struct {
	db *sql.DB
}

// NewService creates a credential service over the given database.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Init creates the users table if it doesn't exist.
func (s *Service) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Register creates an account. The username must be unused; the password is
// hashed before storage. Empty role defaults to "user".
func (s *Service) Register(username, password, role string) error {
	if username == "" || password == "" {
		return &ErrInvalidCredentials{Reason: "username and password required"}
	}
	if role == "" {
		role = "user"
	}
	hash, err := Hash(password)
	if err != nil {
		return fmt.Errorf("creds: hash: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO users (username, password, role)
		VALUES (?, ?, ?)
		ON CONFLICT (username) DO NOTHING`,
		username, hash, role)
	if err != nil {
		return fmt.Errorf("creds: register %s: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creds: register %s: %w", username, err)
	}
	if n == 0 {
		return &ErrUserExists{Username: username}
	}
	return nil
}

// Authenticate verifies a username/password pair and returns the account.
func (s *Service) Authenticate(username, password string) (*User, error) {
	var u User
	var hash string
	err := s.db.QueryRow(
		"SELECT id, username, password, role FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &hash, &u.Role)
	if err == sql.ErrNoRows {
		return nil, &ErrInvalidCredentials{Reason: "unknown user"}
	}
	if err != nil {
		return nil, fmt.Errorf("creds: authenticate %s: %w", username, err)
	}
	if !Verify(password, hash) {
		return nil, &ErrInvalidCredentials{Reason: "wrong password"}
	}
	return &u, nil
}

// Hash bcrypt-hashes a plaintext password.
func Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether password matches the stored bcrypt hash.
func Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
