package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/DoyleJ11/lobbysync/internal/hub"
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/internal/types"
	ptypes "github.com/DoyleJ11/lobbysync/pkg/types"
)

var ErrReadOnly = errors.New("this session takes no commands")
var ErrUnknownType = errors.New("unknown type")

var observers atomic.Uint64

// Host is the command side of a coordinator session.
type Host interface {
	SetOption(ctx context.Context, o setup.Option, v uint8) error
	SetChoice(ctx context.Context, c setup.Choice) error
	Kick(ctx context.Context, slot int) error
	Launch(ctx context.Context) error
}

// Handler streams snapshots from h to one websocket observer. With a nil
// host the socket is read-only.
func Handler(h *hub.Hub, host Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan ptypes.Snapshot, 8)
		id := observerID()

		h.Inbox() <- hub.Subscribe{ID: id, Outbox: out}
		defer func() { h.Inbox() <- hub.Unsubscribe{ID: id} }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				send(writeCtx, conn, types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, Snapshot: &snap})
			}
			if writeCtx.Err() == nil {
				// hub dropped us
				conn.Close(websocket.StatusPolicyViolation, "too slow")
			}
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			if err := dispatch(r.Context(), host, cm); err != nil {
				send(r.Context(), conn, types.ServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

func dispatch(ctx context.Context, host Host, m types.ClientMessage) error {
	if host == nil {
		return ErrReadOnly
	}
	switch m.Type {
	case "SetOption":
		return host.SetOption(ctx, setup.Option(m.Option), m.Value)
	case "SetChoice":
		return host.SetChoice(ctx, setup.Choice{Ready: m.Ready, Race: m.Race})
	case "Kick":
		return host.Kick(ctx, m.Slot)
	case "Launch":
		return host.Launch(ctx)
	default:
		return ErrUnknownType
	}
}

func send(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

// observerID names one websocket subscription; ids are never reused.
func observerID() string {
	return fmt.Sprintf("ws-%d", observers.Add(1))
}
