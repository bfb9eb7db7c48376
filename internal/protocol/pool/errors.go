package pool

import (
	"errors"
	"fmt"
)

var (
	ErrSealed              = errors.New("pool: registration is sealed")
	ErrProtocolExists      = errors.New("pool: protocol already registered")
	ErrUnknownProtocol     = errors.New("pool: protocol not registered")
	ErrRoleCount           = errors.New("pool: a protocol must have exactly two roles")
	ErrRoleKind            = errors.New("pool: roles must be one active and one passive")
	ErrRoleExists          = errors.New("pool: role already registered")
	ErrUnknownRole         = errors.New("pool: role not registered")
	ErrStatesExist         = errors.New("pool: states already registered")
	ErrStatesMissing       = errors.New("pool: states not registered")
	ErrMissingIgnore       = errors.New("pool: state group must contain IGNORE")
	ErrUnknownState        = errors.New("pool: state not registered")
	ErrResponseExists      = errors.New("pool: response already registered")
	ErrNilHandler          = errors.New("pool: nil handler")
	ErrSchemeExists        = errors.New("pool: scheme already registered")
	ErrUnknownScheme       = errors.New("pool: scheme not registered")
	ErrInvalidActivation   = errors.New("pool: invalid activation")
	ErrActivationKind      = errors.New("pool: activation method requires an active role")
	ErrActivationExists    = errors.New("pool: activation already registered")
	ErrIncompleteResponses = errors.New("pool: scheme does not respond to every opposite state")
	ErrOutOfTurn           = errors.New("pool: packet out of turn")
)

// IncompleteError names the first opposite-role state a scheme cannot handle.
type IncompleteError struct {
	Scheme string
	State  State
	Reason string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("pool: scheme %s: state %s: %s", e.Scheme, e.State, e.Reason)
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncompleteResponses
}
