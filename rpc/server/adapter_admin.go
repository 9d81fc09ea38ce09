package server

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"strconv"
	"strings"
)

// NewAdminAdapter creates the adapter for administrative commands:
//
//	sessions                 list all sessions (json)
//	terminate <id> [reason]  terminate a session
//	ping-all                 ping all sessions
func NewAdminAdapter(sessions ISessionManager) IRPCServerAdapter {
	return &adminAdapterImpl{sessions: sessions}
}

type adminAdapterImpl struct {
	sessions ISessionManager
}

func (adapter *adminAdapterImpl) Handle(session *Session, req *common.Message) *common.Message {
	fields := strings.Fields(req.Command)
	if len(fields) == 0 {
		return common.NewErrorResponse(common.ErrTBadRequest, fmt.Errorf("admin: empty command"))
	}

	switch fields[0] {
	case "sessions":
		data, err := json.Marshal(adapter.sessions.Sessions())
		if err != nil {
			return common.NewErrorResponse(common.ErrTGeneral, err)
		}
		return common.NewAdminResponse(data)

	case "terminate":
		if len(fields) < 2 {
			return common.NewErrorResponse(common.ErrTBadRequest, fmt.Errorf("admin: usage: terminate <id> [reason]"))
		}
		id, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return common.NewErrorResponse(common.ErrTBadRequest, fmt.Errorf("admin: invalid session id %q", fields[1]))
		}
		reason := fmt.Sprintf("terminated by session %d", session.ID)
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		if err := adapter.sessions.Terminate(id, reason); err != nil {
			return common.NewErrorResponse(common.ErrTBadRequest, err)
		}
		return common.NewAdminResponse([]byte(fmt.Sprintf("terminated %d", id)))

	case "ping-all":
		n := adapter.sessions.PingAll()
		return common.NewAdminResponse([]byte(strconv.Itoa(n)))

	default:
		return common.NewErrorResponse(common.ErrTUnsupported, fmt.Errorf("admin: unsupported command %q", fields[0]))
	}
}
