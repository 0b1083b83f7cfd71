package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/RGBKey/yolodice-api/internal/registry"
	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

// Server-initiated methods the client understands. Anything else is
// ignored.
const (
	MethodUpdateUserData = "update_user_data"
)

type NotificationHandler func(params json.RawMessage)

// Notifications holds one handler per known push method. Known methods
// start as no-ops.
type Notifications struct {
	mu             sync.RWMutex
	updateUserData NotificationHandler
	logger         *slog.Logger
}

func NewNotifications(logger *slog.Logger) *Notifications {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifications{logger: logger}
}

func (n *Notifications) OnUpdateUserData(fn NotificationHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updateUserData = fn
}

// Handle routes a notification and reports whether its method is known.
func (n *Notifications) Handle(note models.Notification) bool {
	n.mu.RLock()
	var fn NotificationHandler
	known := true
	switch note.Method {
	case MethodUpdateUserData:
		fn = n.updateUserData
	default:
		known = false
	}
	n.mu.RUnlock()

	if !known {
		n.logger.Debug("ignoring unknown notification", "method", note.Method)
		return false
	}
	if fn != nil {
		fn(note.Params)
	}
	return true
}

// Dispatcher routes decoded messages of one connection.
type Dispatcher struct {
	reg       *registry.Registry
	notes     *Notifications
	onAnomaly func(*rpckit.ProtocolError)
}

func New(reg *registry.Registry, notes *Notifications, onAnomaly func(*rpckit.ProtocolError)) *Dispatcher {
	if notes == nil {
		notes = NewNotifications(nil)
	}
	if onAnomaly == nil {
		onAnomaly = func(*rpckit.ProtocolError) {}
	}
	return &Dispatcher{reg: reg, notes: notes, onAnomaly: onAnomaly}
}

func (d *Dispatcher) Dispatch(msg models.Message) {
	switch msg.Kind() {
	case models.KindResponse:
		resp := msg.Response()
		if !d.reg.Resolve(resp) {
			d.onAnomaly(rpckit.NewProtocolError(encodeForDiagnostics(msg), msg.ID, rpckit.ErrUnknownID))
		}
	case models.KindNotification:
		d.notes.Handle(msg.Notification())
	default:
		d.onAnomaly(rpckit.NewProtocolError(encodeForDiagnostics(msg), nil, rpckit.ErrInvalidMessage))
	}
}

func encodeForDiagnostics(msg models.Message) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return raw
}
