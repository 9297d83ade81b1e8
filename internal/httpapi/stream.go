package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are governed by the CORS setting and the API key.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams a job's events over a websocket. The first message is
// the job's current state; the stream ends after the terminal event.
func (s Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		writeErr(w, http.StatusServiceUnavailable, errors.New("event streaming is not enabled"))
		return
	}
	id := chi.URLParam(r, "id")

	buffer := s.StreamBuffer
	if buffer <= 0 {
		buffer = 64
	}
	interval := s.PingInterval
	if interval <= 0 {
		interval = pingPeriod
	}

	// Subscribe before reading the snapshot so nothing falls in between.
	ch, unsubscribe := s.Hub.Subscribe(id, buffer)
	defer unsubscribe()

	snap, err := s.Jobs.Get(r.Context(), id)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed)

	if err := writeEvent(conn, events.FromSnapshot(events.TypeSnapshot, snap, snapshotMessage(snap))); err != nil {
		return
	}
	if snap.Status.Terminal() {
		closeStream(conn, "job finished")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				closeStream(conn, "server shutting down")
				return
			}
			if ev.FramesDone < snap.FramesDone && !ev.Terminal() {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			if ev.Terminal() {
				closeStream(conn, "job finished")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			// The hub drops events for a full buffer, the terminal one
			// included, so check the job directly.
			cur, err := s.Jobs.Get(r.Context(), id)
			if err != nil || !cur.Status.Terminal() {
				continue
			}
			t := events.TypeDone
			if cur.Status == model.JobError {
				t = events.TypeFailed
			}
			if err := writeEvent(conn, events.FromSnapshot(t, cur, snapshotMessage(cur))); err != nil {
				return
			}
			closeStream(conn, "job finished")
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump drains client frames so control messages are processed, and
// signals when the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// snapshotMessage is the artifact of a finished job or the error of a failed one.
func snapshotMessage(snap model.Snapshot) string {
	switch snap.Status {
	case model.JobDone:
		return snap.ArtifactKey
	case model.JobError:
		return snap.Error
	}
	return ""
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
