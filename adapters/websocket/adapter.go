package websocket

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"questline/core"
	"questline/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Options tunes the WebSocket handler.
type Options struct {
	Buffer int
	Logger *slog.Logger
	// CheckOrigin overrides the origin policy. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler returns an http.Handler that upgrades to WebSocket and streams events from the hub.
// A "user" query parameter restricts the stream to one user's events.
func Handler(hub *realtime.Hub) http.Handler {
	return HandlerWithOptions(hub, Options{})
}

func HandlerWithOptions(hub *realtime.Hub, opts Options) http.Handler {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	check := opts.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: check}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var filter realtime.Filter
		if u := strings.TrimSpace(r.URL.Query().Get("user")); u != "" {
			user, err := core.NormalizeUserID(core.UserID(u))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			filter = realtime.ForUser(user)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			opts.Logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		id, ch := hub.SubscribeFiltered(opts.Buffer, filter)
		defer hub.Unsubscribe(id)

		// the read pump only services control frames and notices the peer leaving
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			case <-r.Context().Done():
				return
			}
		}
	})
}
