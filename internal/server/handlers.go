package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/logging"
	"github.com/Tyrowin/chatrelay/internal/models"
	"github.com/Tyrowin/chatrelay/internal/store"
)

// HealthCheck is a dependency check reported by the health endpoint. A
// failing check marks the instance degraded.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	InstanceID     string
	AllowedOrigins []string
	Client         ClientOptions
	Verifier       auth.Verifier
	Oracle         store.RelationshipOracle
	Messages       store.MessageStore
	Checks         []HealthCheck
	// FanoutState reports the publish breaker state; informational only.
	FanoutState func() string
}

// Server serves the websocket endpoint and the supporting HTTP routes.
type Server struct {
	hub      *Hub
	relay    *Relay
	opts     Options
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP surface for hub and relay.
func NewServer(hub *Hub, relay *Relay, opts Options) *Server {
	s := &Server{
		hub:     hub,
		relay:   relay,
		opts:    opts,
		origins: newOriginPolicy(opts.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// WebSocketHandler upgrades the request and hands the connection to the hub.
// The connection starts Unauthenticated and must send an auth frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.relay, r.RemoteAddr, s.opts.Client)
	if !s.hub.Attach(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

type healthResponse struct {
	Status        string            `json:"status"`
	Instance      string            `json:"instance,omitempty"`
	Connections   int               `json:"connections"`
	Authenticated int               `json:"authenticated"`
	Fanout        string            `json:"fanout,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// HealthHandler reports instance status as JSON.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Instance:      s.opts.InstanceID,
		Connections:   s.hub.Count(),
		Authenticated: s.relay.Registry().Len(),
	}
	if s.opts.FanoutState != nil {
		resp.Fanout = s.opts.FanoutState()
	}

	status := http.StatusOK
	if len(s.opts.Checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Checks = make(map[string]string, len(s.opts.Checks))
		for _, hc := range s.opts.Checks {
			if err := hc.Check(ctx); err != nil {
				resp.Checks[hc.Name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[hc.Name] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// ConversationHandler returns every message between the caller and
// friendId, oldest first. Offline users catch up through this route.
func (s *Server) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	self, err := s.opts.Verifier.Verify(auth.BearerToken(r.Header.Get("Authorization")))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	friend := models.Identity(chi.URLParam(r, "friendId"))
	if friend == "" {
		writeError(w, http.StatusBadRequest, "friendId is required")
		return
	}

	ok, err := s.opts.Oracle.Authorized(r.Context(), self, friend)
	if err != nil {
		logging.Error().Err(err).Str("user_id", string(self)).Msg("relationship check failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "you can only view messages with friends")
		return
	}

	msgs, err := s.opts.Messages.Conversation(r.Context(), self, friend)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Error().Err(err).Str("user_id", string(self)).Msg("conversation query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("error writing JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestPageHandler serves a small HTML client for manual testing.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write([]byte(testPageHTML)); err != nil {
		logging.Debug().Err(err).Msg("error writing test page")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 260px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="token" placeholder="JWT token">
        <button onclick="toggleConnection()" id="connectButton">Connect</button>
    </div>
    <div>
        <input type="text" id="toId" placeholder="Recipient user id">
        <input type="text" id="content" placeholder="Message">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        let typingTimer = null;
        const log = document.getElementById('log');
        const statusDiv = document.getElementById('status');

        function append(text, color) {
            const el = document.createElement('div');
            el.style.color = color || 'gray';
            el.textContent = text;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        function setStatus(text, ok) {
            statusDiv.textContent = text;
            statusDiv.className = 'status ' + (ok ? 'connected' : 'disconnected');
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(frame));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => {
                setStatus('Connected, authenticating...', true);
                send({type: 'auth', token: document.getElementById('token').value});
            };
            ws.onmessage = (event) => {
                const frame = JSON.parse(event.data);
                switch (frame.type) {
                case 'connected':
                    setStatus('Authenticated as ' + frame.userId, true);
                    break;
                case 'message':
                    append(frame.message.fromId + ': ' + frame.message.content, 'green');
                    send({type: 'mark_seen', messageId: frame.message.id});
                    break;
                case 'message_sent':
                    append('you -> ' + frame.message.toId + ': ' + frame.message.content, 'blue');
                    break;
                case 'typing':
                    append(frame.fromId + (frame.isTyping ? ' is typing...' : ' stopped typing'));
                    break;
                case 'error':
                    append('error: ' + frame.message, 'red');
                    break;
                default:
                    append(event.data);
                }
            };
            ws.onclose = () => { setStatus('Disconnected', false); ws = null; };
        }

        function toggleConnection() {
            if (ws) { ws.close(); } else { connect(); }
        }

        function sendMessage() {
            const toId = document.getElementById('toId').value.trim();
            const input = document.getElementById('content');
            send({type: 'message', toId: toId, content: input.value});
            send({type: 'typing', toId: toId, isTyping: false});
            input.value = '';
        }

        document.getElementById('content').addEventListener('input', () => {
            const toId = document.getElementById('toId').value.trim();
            if (!toId) { return; }
            send({type: 'typing', toId: toId, isTyping: true});
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => send({type: 'typing', toId: toId, isTyping: false}), 2000);
        });
    </script>
</body>
</html>`
