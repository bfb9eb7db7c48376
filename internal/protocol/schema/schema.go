// Package schema checks that a TLV payload carries the fields a state
// requires before a scheme handler reads it.
package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

var ErrRequirementsExist = errors.New("schema: requirements already registered")

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	State   pool.State
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: state=%s: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("schema: state=%s field=%d: %s", e.State, e.FieldID, e.Reason)
}

type key struct {
	protocol uint16
	role     string
	value    uint16
}

func keyOf(st pool.State) key {
	return key{protocol: st.Protocol, role: st.Role, value: st.Value}
}

// Registry maps states to their required payload fields.
type Registry struct {
	mu   sync.RWMutex
	reqs map[key][]Requirement
}

func NewRegistry() *Registry {
	return &Registry{reqs: make(map[key][]Requirement)}
}

func (r *Registry) Require(st pool.State, reqs ...Requirement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reqs[keyOf(st)]; ok {
		return fmt.Errorf("%w: %s", ErrRequirementsExist, st)
	}
	r.reqs[keyOf(st)] = append([]Requirement(nil), reqs...)
	return nil
}

// Validate enforces required fields and their types for st. Unknown fields
// are ignored, and a state without requirements accepts any payload.
func (r *Registry) Validate(st pool.State, fields tlv.Fields) error {
	r.mu.RLock()
	reqs := r.reqs[keyOf(st)]
	r.mu.RUnlock()
	for _, req := range reqs {
		f, found := fields.Get(req.ID)
		if !found {
			log.Debug().Str("state", st.String()).Uint16("field", req.ID).Msg("schema missing field")
			return ValidationError{State: st, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().Str("state", st.String()).Uint16("field", req.ID).
				Uint8("got", f.Type).Uint8("want", req.Type).Msg("schema type mismatch")
			return ValidationError{State: st, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// Decode parses payload and validates it against st in one step.
func (r *Registry) Decode(st pool.State, payload []byte) (tlv.Fields, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, ValidationError{State: st, Reason: err.Error()}
	}
	if err := r.Validate(st, fields); err != nil {
		return nil, err
	}
	return fields, nil
}
