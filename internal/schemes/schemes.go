// Package schemes assembles the predefined exchanges into a sealed pool.
package schemes

import (
	"fmt"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/schema"
	"github.com/danmuck/exchange/internal/schemes/authenticate"
	"github.com/danmuck/exchange/internal/schemes/heartbeat"
	"github.com/danmuck/exchange/internal/schemes/submit"
)

// Protocols numbers the external exchanges this module ships.
var Protocols = mustExternal("Protocols",
	constgroup.Member{Name: submit.Name, Value: submit.ID},
	constgroup.Member{Name: authenticate.Name, Value: authenticate.ID},
)

func mustExternal(name string, members ...constgroup.Member) *constgroup.Group {
	g, err := constgroup.NewExternalSchemes(name, members...)
	if err != nil {
		panic(err)
	}
	return g
}

// Register adds every predefined exchange to p, external and internal. Payload requirements land in
// reg, which may be nil.
func Register(p *pool.Pool, reg *schema.Registry) error {
	if _, err := p.RegisterProtocols(Protocols); err != nil {
		return fmt.Errorf("schemes: protocols: %w", err)
	}
	if _, err := p.RegisterProtocols(heartbeat.Protocols); err != nil {
		return fmt.Errorf("schemes: internal protocols: %w", err)
	}
	if err := submit.Register(p); err != nil {
		return fmt.Errorf("schemes: %s: %w", submit.Name, err)
	}
	if err := authenticate.Register(p, reg); err != nil {
		return fmt.Errorf("schemes: %s: %w", authenticate.Name, err)
	}
	if err := heartbeat.Register(p); err != nil {
		return fmt.Errorf("schemes: %s: %w", heartbeat.Name, err)
	}
	return nil
}

// NewPool returns a sealed pool holding the predefined exchanges along with
// the payload registry they validate against.
func NewPool() (*pool.Pool, *schema.Registry, error) {
	p := pool.New()
	reg := schema.NewRegistry()
	if err := Register(p, reg); err != nil {
		return nil, nil, err
	}
	p.Seal()
	return p, reg, nil
}
