package authenticate

import "sync"

// Gate tracks which sources hold an accepted AUTHENTICATE exchange. Servers
// cloned from one template share it, so a listener can gate other exchanges
// on any connection's login.
type Gate struct {
	mu      sync.RWMutex
	sources map[string]string
}

func NewGate() *Gate {
	return &Gate{sources: make(map[string]string)}
}

// Admit records source as authenticated as user.
func (g *Gate) Admit(source, user string) {
	g.mu.Lock()
	g.sources[source] = user
	g.mu.Unlock()
}

// Allow reports whether source is authenticated. Its signature matches
// submit.AcceptFunc.
func (g *Gate) Allow(source string) bool {
	_, ok := g.User(source)
	return ok
}

// User returns the username source authenticated as.
func (g *Gate) User(source string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	user, ok := g.sources[source]
	return user, ok
}

// Forget drops source, typically once its connection closes.
func (g *Gate) Forget(source string) {
	g.mu.Lock()
	delete(g.sources, source)
	g.mu.Unlock()
}

func (g *Gate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sources)
}
