package gateway

import (
	"github.com/clawapp/claw/internal/status"
	"go.uber.org/zap"
)

// StatusHandler maps transport status tokens onto the connectivity
// state machine. It never calls the sync engine directly; the engine
// subscribes to the machine's bus events instead.
type StatusHandler struct {
	machine *status.Machine
	logger  *zap.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(machine *status.Machine, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{machine: machine, logger: logger}
}

// Handle is registered as the transport's status callback.
func (h *StatusHandler) Handle(token string) {
	current := h.machine.Current()
	switch token {
	case TokenConnecting:
		_ = h.machine.Transition(status.Connecting)
	case TokenReady:
		h.logger.Info("gateway ready")
		if err := h.machine.Transition(status.Ready); err != nil {
			h.logger.Warn("unexpected ready token", zap.String("state", string(current)), zap.Error(err))
		}
	case TokenClosed:
		switch current {
		case status.Ready, status.Connecting, status.Degraded:
			h.logger.Warn("gateway connection lost")
			_ = h.machine.Transition(status.Reconnecting)
		}
	}
}
