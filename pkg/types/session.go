package types

// Session is a client session. It becomes identified once EngineerID is set.
type Session struct {
	ID         string `json:"id"`
	EngineerID string `json:"engineerId,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	LastAccess int64  `json:"last_access"`
}

// Identified reports whether the session is bound to an engineer
func (s *Session) Identified() bool {
	return s != nil && s.EngineerID != ""
}

// SessionRef is a push target: one session of one engineer
type SessionRef struct {
	SessionID  string `json:"sessionId"`
	EngineerID string `json:"engineerId"`
}
