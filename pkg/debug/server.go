package debug

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quadgate/fsmregistry/pkg/fsm"
	"github.com/quadgate/fsmregistry/pkg/logging"
)

// MachineLookup resolves the live state and supported events for a machine,
// used to answer GET_STATE requests without the debug package depending on
// fsm.Registry directly.
type MachineLookup func(id fsm.MachineID) (state fsm.StateName, events []EventMetadata, ok bool)

// Sender dispatches a client-originated event to the registry, used to
// implement the `{action: <eventName>, payload}` control message.
type Sender func(id fsm.MachineID, ev fsm.Event) error

// Server is a WebSocket broadcast server implementing fsm.Broadcaster: it
// fans every transition record out to all connected clients, and lets
// clients drive machines directly through a small control protocol.
type Server struct {
	issuer *TokenIssuer
	lookup MachineLookup
	send   Sender
	logger logging.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]fsm.MachineID
}

// NewServer builds a Server. issuer may be nil to disable authentication
// entirely (only appropriate for a loopback-only debug listener).
func NewServer(issuer *TokenIssuer, lookup MachineLookup, send Sender, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Server{
		issuer:  issuer,
		lookup:  lookup,
		send:    send,
		logger:  logger,
		clients: make(map[*websocket.Conn]fsm.MachineID),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns an http.Handler serving /login and /ws under mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.issuer == nil {
		http.Error(w, "authentication disabled", http.StatusNotFound)
		return
	}
	var body struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token, err := s.issuer.Login(body.Secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.issuer != nil {
		if err := s.issuer.authenticateUpgrade(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("debug: websocket upgrade failed: %v", err)
		return
	}

	machineID := fsm.MachineID(r.URL.Query().Get("machine_id"))

	s.mu.Lock()
	s.clients[conn] = machineID
	s.mu.Unlock()

	go s.readLoop(conn, machineID)
}

func (s *Server) readLoop(conn *websocket.Conn, machineID fsm.MachineID) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var action ClientAction
		if err := conn.ReadJSON(&action); err != nil {
			return
		}

		switch action.Action {
		case ActionGetState:
			s.replyCurrentState(conn, machineID)
		default:
			s.dispatchEvent(conn, machineID, action)
		}
	}
}

func (s *Server) replyCurrentState(conn *websocket.Conn, id fsm.MachineID) {
	if s.lookup == nil {
		return
	}
	state, events, ok := s.lookup(id)
	if !ok {
		conn.WriteJSON(ServerMessage{Type: MessageCurrentState, MachineID: id, Error: "unknown machine"})
		return
	}
	conn.WriteJSON(ServerMessage{Type: MessageCurrentState, MachineID: id, State: state, Events: events})
}

func (s *Server) dispatchEvent(conn *websocket.Conn, id fsm.MachineID, action ClientAction) {
	if s.send == nil {
		conn.WriteJSON(ServerMessage{Type: MessageCurrentState, MachineID: id, Error: "event dispatch disabled"})
		return
	}
	ev := fsm.NewEvent(action.Action, action.Payload)
	if err := s.send(id, ev); err != nil {
		conn.WriteJSON(ServerMessage{Type: MessageCurrentState, MachineID: id, Error: err.Error()})
	}
}

// Broadcast implements fsm.Broadcaster, fanning rec out to every client
// subscribed to its machine (or with no machine filter set).
func (s *Server) Broadcast(rec fsm.TransitionRecord) {
	msg := ServerMessage{Type: MessageStateChange, MachineID: rec.MachineID, State: rec.ToState, Record: &rec}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn, filter := range s.clients {
		if filter != "" && filter != rec.MachineID {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Warnf("debug: dropping client after write failure: %v", err)
			// Closing makes the client's readLoop fail and unregister it.
			conn.Close()
		}
	}
}
