package host

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	engine "github.com/reactive-dataflow/engine"
)

// wsReadLimit bounds inbound frame size, matching the teacher's
// SetReadLimit guard on unbounded payloads (main.go).
const wsReadLimit = 1 << 16

const wsPongWait = 60 * time.Second
const wsPingInterval = wsPongWait * 9 / 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsEnvelope is the inbound wire shape for a WebSocket-delivered event: a
// link name and a JSON-encoded payload shape matching EventPayloadKind.
type wsEnvelope struct {
	Link    string  `json:"link"`
	Kind    string  `json:"kind"`
	Text    string  `json:"text,omitempty"`
	Bool    bool    `json:"bool,omitempty"`
	Number  float64 `json:"number,omitempty"`
	Key     string  `json:"key,omitempty"`
	KeyText string  `json:"key_text,omitempty"`
}

func (e wsEnvelope) toPayload() engine.EventPayload {
	switch e.Kind {
	case "text":
		return engine.TextPayload(e.Text)
	case "bool":
		return engine.BoolPayload(e.Bool)
	case "number":
		return engine.NumberPayload(e.Number)
	case "key_down":
		return engine.KeyDownPayload(parseKey(e.Key), e.KeyText)
	default:
		return engine.UnitPayload()
	}
}

func parseKey(s string) engine.Key {
	switch s {
	case "Enter":
		return engine.KeyEnter
	case "Escape":
		return engine.KeyEscape
	case "Tab":
		return engine.KeyTab
	case "Backspace":
		return engine.KeyBackspace
	default:
		return engine.KeyNone
	}
}

// WSIngress upgrades incoming HTTP connections to WebSocket and forwards
// each decoded frame into the Host's ingress queue, grounded on the
// teacher's connection-handling idiom (main.go: read deadline + pong
// handler keepalive, one reader goroutine per connection) adapted from a
// broadcast relay to a single-consumer event injector.
type WSIngress struct {
	host     *Host
	resolve  func(linkName string) (engine.LinkId, bool)
	logger   *slog.Logger
}

// NewWSIngress builds a WebSocket ingress bound to host. resolve maps the
// envelope's link name to the LinkId the program registered it under
// (typically via engine.NewStaticLinkId at graph-build time).
func NewWSIngress(host *Host, resolve func(linkName string) (engine.LinkId, bool), logger *slog.Logger) *WSIngress {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSIngress{host: host, resolve: resolve, logger: logger}
}

// ServeHTTP upgrades the connection and reads events until the client
// disconnects or sends a malformed frame.
func (w *WSIngress) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go w.pingLoop(conn)

	for {
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			w.logger.Debug("websocket connection closed", "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env wsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			w.logger.Debug("dropping invalid event frame", "error", err)
			continue
		}

		link, ok := w.resolve(env.Link)
		if !ok {
			w.logger.Debug("dropping event for unknown link", "link", env.Link)
			continue
		}

		if err := w.host.InjectEvent(link, env.toPayload()); err != nil {
			w.logger.Warn("inject_event failed", "link", env.Link, "error", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

func (w *WSIngress) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}
