package creds

import "fmt"

// ErrUserExists is returned when Register targets a taken username.
type ErrUserExists struct {
	Username string
}

func (e *ErrUserExists) Error() string {
	return fmt.Sprintf("creds: user already exists: %s", e.Username)
}

// ErrInvalidCredentials is returned on a failed Authenticate or a Register
// call with missing fields. The reason is for logs only; callers should
// show a generic message.
type ErrInvalidCredentials struct {
	Reason string
}

func (e *ErrInvalidCredentials) Error() string {
	return fmt.Sprintf("creds: invalid credentials: %s", e.Reason)
}
