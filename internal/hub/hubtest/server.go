// Package hubtest provides an in-process status hub for tests.
package hubtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"fuelpay/internal/hub"
)

// RegisterMethod is the method clients call to follow a transaction.
const RegisterMethod = "RegisterForTransactionUpdates"

type peer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is a fake hub served over httptest. The hub lives at URL()+"/hub".
type Server struct {
	*httptest.Server

	// RejectRegistration makes registrations complete with an error.
	RejectRegistration atomic.Bool
	// Negotiations counts negotiate calls.
	Negotiations atomic.Int32

	upgrader   websocket.Upgrader
	registered chan string
	connected  chan struct{}

	mu    sync.Mutex
	peers []*peer
	token string
}

// NewServer starts a fake hub.
func NewServer() *Server {
	s := &Server{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		registered: make(chan string, 16),
		connected:  make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/negotiate", s.handleNegotiate)
	mux.HandleFunc("/hub", s.handleWS)
	s.Server = httptest.NewServer(mux)
	return s
}

// HubURL returns the http URL of the hub endpoint.
func (s *Server) HubURL() string {
	return s.URL + "/hub"
}

// Registered yields transaction ids as clients register for them.
func (s *Server) Registered() <-chan string {
	return s.registered
}

// Connected receives a value for every completed handshake.
func (s *Server) Connected() <-chan struct{} {
	return s.connected
}

// LastAccessToken returns the access_token query value of the latest connection.
func (s *Server) LastAccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// PushStatus sends TransactionStatus(guid, json) to every connected client.
func (s *Server) PushStatus(transactionID, statusCode, productInfo string) error {
	payload, err := json.Marshal(map[string]string{
		"ProductInfo":           productInfo,
		"TransactionStatusCode": statusCode,
	})
	if err != nil {
		return err
	}
	return s.Push("TransactionStatus", transactionID, string(payload))
}

// Push sends an invocation to every connected client.
func (s *Server) Push(target string, args ...interface{}) error {
	frame, err := hub.BuildInvocation("", target, args...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	peers := append([]*peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		if err := p.write(frame); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := s.peers
	s.peers = nil
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.ws.Close()
	}
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Negotiations.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"negotiateVersion":1,"connectionId":"c-1","connectionToken":"ct-1"}`))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_, data, err := ws.ReadMessage()
	if err != nil || !strings.Contains(string(data), `"protocol":"json"`) {
		_ = ws.Close()
		return
	}
	p := &peer{ws: ws}
	if err := p.write([]byte("{}\x1e")); err != nil {
		_ = ws.Close()
		return
	}

	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.token = r.URL.Query().Get("access_token")
	s.mu.Unlock()
	s.connected <- struct{}{}

	go s.serve(p)
}

func (s *Server) serve(p *peer) {
	defer p.ws.Close()
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range hub.Split(data) {
			msg, err := hub.Parse(frame)
			if err != nil || msg.Type != hub.TypeInvocation {
				continue
			}
			if msg.Target != RegisterMethod || len(msg.Arguments) == 0 {
				reply, _ := hub.BuildCompletion(msg.InvocationID, nil, "unknown method")
				_ = p.write(reply)
				continue
			}
			var id string
			_ = json.Unmarshal(msg.Arguments[0], &id)

			errMsg := ""
			if s.RejectRegistration.Load() {
				errMsg = "registration rejected"
			}
			reply, _ := hub.BuildCompletion(msg.InvocationID, nil, errMsg)
			if err := p.write(reply); err != nil {
				return
			}
			if errMsg == "" {
				s.registered <- id
			}
		}
	}
}
