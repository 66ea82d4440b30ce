package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radiolens/radiolens/internal/pipeline"
	"github.com/radiolens/radiolens/internal/ratelimit"
	"github.com/radiolens/radiolens/internal/upload"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Runner is the classification entry point.
type Runner interface {
	Run(ctx context.Context, modalityTag, imagePath string) (*pipeline.Result, error)
}

// Request is one classification sent by a stream client.
type Request struct {
	ID          string `json:"id,omitempty"`
	Modality    string `json:"modality"`
	ImageBase64 string `json:"image_base64"`
	Filename    string `json:"filename"`
}

// Event is a stage update sent back to the client. Type is "accepted",
// "result" or "error".
type Event struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Modality string           `json:"modality,omitempty"`
	Result   *pipeline.Result `json:"result,omitempty"`
	Kind     string           `json:"kind,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Manager tracks active WebSocket connections and runs the classifications
// their clients send.
type Manager struct {
	mu          sync.RWMutex
	connections []*websocket.Conn
	runner      Runner
	limiter     *ratelimit.Limiter
	maxUpload   int64
	logger      *slog.Logger
}

// NewManager creates a new WebSocket manager.
func NewManager(runner Runner, limiter *ratelimit.Limiter, maxUpload int64, logger *slog.Logger) *Manager {
	return &Manager{runner: runner, limiter: limiter, maxUpload: maxUpload, logger: logger}
}

// HandleStream upgrades an HTTP connection to WebSocket and serves
// classification requests on it one at a time until the client leaves.
func (m *Manager) HandleStream(w http.ResponseWriter, r *http.Request) {
	if m.limiter.Check(w, r, "stream") {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	// base64 inflates by 4/3, plus room for the other fields.
	conn.SetReadLimit(m.maxUpload/3*4 + 4096)

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()

	defer func() {
		m.remove(conn)
		conn.Close()
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn("websocket read failed", "err", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			if m.sendJSON(conn, Event{Type: "error", Kind: "bad_request", Error: "invalid JSON"}) != nil {
				return
			}
			continue
		}
		if err := m.serve(ctx, conn, req); err != nil {
			return
		}
	}
}

// serve handles one request. The returned error is a write failure, which
// ends the connection.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, req Request) error {
	fail := func(kind, msg string) error {
		return m.sendJSON(conn, Event{Type: "error", ID: req.ID, Kind: kind, Error: msg})
	}

	if req.Modality == "" || req.ImageBase64 == "" {
		return fail("bad_request", "modality and image_base64 are required")
	}
	img, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return fail("bad_request", "image_base64 is not valid base64")
	}
	path, cleanup, err := upload.SaveTemp(bytes.NewReader(img), req.Filename, m.maxUpload)
	if err != nil {
		return fail("bad_request", err.Error())
	}
	defer cleanup()

	if err := m.sendJSON(conn, Event{Type: "accepted", ID: req.ID, Modality: req.Modality}); err != nil {
		return err
	}

	result, err := m.runner.Run(ctx, req.Modality, path)
	if err != nil {
		kind := pipeline.ErrorKind(err)
		m.logger.Warn("stream classification failed", "modality", req.Modality, "kind", kind, "err", err)
		msg := err.Error()
		if kind == pipeline.KindInternal {
			msg = "internal error"
		}
		return fail(kind, msg)
	}
	return m.sendJSON(conn, Event{Type: "result", ID: req.ID, Modality: req.Modality, Result: result})
}

// Count returns the number of open streams.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll sends a close frame to every client and drops the connections.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.connections
	m.connections = nil
	m.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
	}
}

func (m *Manager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.connections {
		if c == conn {
			m.connections = append(m.connections[:i], m.connections[i+1:]...)
			return
		}
	}
}

func (m *Manager) sendJSON(conn *websocket.Conn, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
