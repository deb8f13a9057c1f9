package auth

import (
	"github.com/tonimelisma/filevault/internal/session"
)

// SessionValidator is the part of the session store the gate needs.
type SessionValidator interface {
	Validate(id session.ID) bool
	Get(id session.ID) (session.Session, bool)
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed  bool
	Username string
}

// Gate turns an optional session id into an allow/deny decision. It never
// mutates session state beyond the store's lazy expiry.
type Gate struct {
	sessions SessionValidator
}

// NewGate creates a Gate over sessions.
func NewGate(sessions SessionValidator) *Gate {
	return &Gate{sessions: sessions}
}

// Authorize allows the request only if it carries a live session.
func (g *Gate) Authorize(id session.ID, present bool) Decision {
	if !present || id == "" {
		return Decision{}
	}

	if !g.sessions.Validate(id) {
		return Decision{}
	}

	// The session may be destroyed between Validate and Get.
	sess, ok := g.sessions.Get(id)
	if !ok {
		return Decision{}
	}

	return Decision{Allowed: true, Username: sess.Username}
}
