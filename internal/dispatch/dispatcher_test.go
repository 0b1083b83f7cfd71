package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/RGBKey/yolodice-api/internal/registry"
	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

func idPtr(v uint64) *uint64 { return &v }

func TestDispatchResolvesPendingCall(t *testing.T) {
	reg := registry.New(registry.Options{})
	call, _ := reg.Register("ping", 0)
	var anomalies []*rpckit.ProtocolError
	d := New(reg, nil, func(e *rpckit.ProtocolError) { anomalies = append(anomalies, e) })

	d.Dispatch(models.Message{ID: idPtr(call.ID), Result: json.RawMessage(`"pong"`)})
	resp, err := call.Wait(context.Background())
	if err != nil || string(resp.Result) != `"pong"` {
		t.Fatalf("unexpected outcome resp=%v err=%v", resp, err)
	}
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %v", anomalies)
	}
}

func TestDispatchDuplicateResponseIsUnknownID(t *testing.T) {
	reg := registry.New(registry.Options{})
	call, _ := reg.Register("ping", 0)
	var anomalies []*rpckit.ProtocolError
	d := New(reg, nil, func(e *rpckit.ProtocolError) { anomalies = append(anomalies, e) })

	msg := models.Message{ID: idPtr(call.ID), Result: json.RawMessage(`1`)}
	d.Dispatch(msg)
	d.Dispatch(msg)

	if len(anomalies) != 1 {
		t.Fatalf("expected one anomaly, got %d", len(anomalies))
	}
	if !errors.Is(anomalies[0], rpckit.ErrUnknownID) || *anomalies[0].ID != call.ID {
		t.Fatalf("unexpected anomaly %v", anomalies[0])
	}
	if anomalies[0].Kind() != "unknown_id" {
		t.Fatalf("unexpected kind %q", anomalies[0].Kind())
	}
}

func TestDispatchRoutesKnownNotification(t *testing.T) {
	notes := NewNotifications(nil)
	var got string
	notes.OnUpdateUserData(func(params json.RawMessage) { got = string(params) })
	d := New(registry.New(registry.Options{}), notes, nil)

	d.Dispatch(models.Message{Method: MethodUpdateUserData, Params: json.RawMessage(`{"balance":5}`)})
	if got != `{"balance":5}` {
		t.Fatalf("handler not invoked, got %q", got)
	}
}

func TestNotificationsIgnoreUnknownMethods(t *testing.T) {
	notes := NewNotifications(nil)
	if notes.Handle(models.Notification{Method: "future_push"}) {
		t.Fatal("unknown method must report false")
	}
	if !notes.Handle(models.Notification{Method: MethodUpdateUserData}) {
		t.Fatal("known method with default handler must report true")
	}
}

func TestDispatchInvalidMessage(t *testing.T) {
	var anomalies []*rpckit.ProtocolError
	d := New(registry.New(registry.Options{}), nil, func(e *rpckit.ProtocolError) { anomalies = append(anomalies, e) })
	d.Dispatch(models.Message{Params: json.RawMessage(`{}`)})
	if len(anomalies) != 1 || !errors.Is(anomalies[0], rpckit.ErrInvalidMessage) {
		t.Fatalf("expected invalid message anomaly, got %v", anomalies)
	}
}
