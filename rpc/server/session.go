package server

import (
	"sync/atomic"
	"time"
)

// Session is the server side state of one client link
type Session struct {
	ID        uint64
	ClientID  string
	User      string
	AuthToken int64
	Since     time.Time

	requests atomic.Uint64
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:       s.ID,
		ClientID: s.ClientID,
		User:     s.User,
		Since:    s.Since,
		Requests: s.requests.Load(),
	}
}
