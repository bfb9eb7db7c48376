// Package auth checks credentials presented by the AUTHENTICATE exchange.
//
// It avoids storage concerns; callers supply the credential source.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Verifier checks one username/password pair.
type Verifier interface {
	Verify(username string, password []byte) error
}

// StaticCredentials maps usernames to passwords.
// It is intended only for development and proofs of concept.
type StaticCredentials map[string]string

func (s StaticCredentials) Verify(username string, password []byte) error {
	want, ok := s[username]
	if !ok || want == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(want), password) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncVerifier adapts a function into a Verifier.
type FuncVerifier func(username string, password []byte) error

func (f FuncVerifier) Verify(username string, password []byte) error {
	return f(username, password)
}

// DenyAll rejects every credential.
type DenyAll struct{}

func (DenyAll) Verify(string, []byte) error { return ErrUnauthorized }
