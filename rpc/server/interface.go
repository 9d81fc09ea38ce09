package server

import (
	"github.com/ValentinKolb/dConn/rpc/common"
	"time"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// Handle processes a request of an established session and returns the
// response. If an error occurs, it should be set in the response.
type IRPCServerAdapter interface {
	Handle(session *Session, req *common.Message) (resp *common.Message)
}

// ISessionManager is the part of the server the admin adapter works on
type ISessionManager interface {
	// Sessions lists all established sessions
	Sessions() []SessionInfo
	// Terminate tells the client of a session that its session was dropped
	Terminate(session uint64, reason string) error
	// PingAll pings every session and returns how many were reachable
	PingAll() int
}

// SessionInfo is the serializable view of a session
type SessionInfo struct {
	ID       uint64    `json:"id"`
	ClientID string    `json:"client_id"`
	User     string    `json:"user,omitempty"`
	Since    time.Time `json:"since"`
	Requests uint64    `json:"requests"`
}
