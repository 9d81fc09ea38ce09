package server

import (
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"time"
)

// NewRequestAdapter creates the adapter for opaque requests. It echoes the
// payload back, which is all a connection core needs to be exercised.
func NewRequestAdapter() IRPCServerAdapter {
	return &requestAdapterImpl{}
}

type requestAdapterImpl struct{}

func (adapter *requestAdapterImpl) Handle(_ *Session, req *common.Message) *common.Message {
	switch req.Command {
	case "", "echo":
		return common.NewResponse(req.Payload)
	case "sleep":
		// payload is a duration, e.g. 50ms
		d, err := time.ParseDuration(string(req.Payload))
		if err != nil {
			return common.NewErrorResponse(common.ErrTBadRequest, fmt.Errorf("invalid duration: %w", err))
		}
		time.Sleep(d)
		return common.NewResponse(req.Payload)
	default:
		return common.NewErrorResponse(common.ErrTUnsupported,
			fmt.Errorf("request adapter: unsupported command %q", req.Command))
	}
}
