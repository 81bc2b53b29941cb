// Package websocket implements the broadcast half of the transport
// collaborator of spec §5/§6: every connected client receives every
// StatusChanged/OutputLine event the agent emits over one shared `/ws`
// endpoint.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/golang/glog"
	gws "github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/lweaver/sqdbg/api"
)

// BroadcastServer fans every event out to every registered connection,
// generalizing the teacher's WebsocketServer (which paired one Debugger's
// Events channel with exactly one connection's write pump) to genuine
// multi-client broadcast: commands now travel over server.Server's HTTP
// routes instead of this socket, so this side only ever writes.
type BroadcastServer struct {
	upgrader gws.Upgrader

	mu    sync.Mutex
	conns map[uuid.UUID]*gws.Conn
}

// New returns a BroadcastServer draining events and fanning them out to
// every connection registered via HandleUpgrade.
func New(events <-chan *api.Event) *BroadcastServer {
	s := &BroadcastServer{
		upgrader: gws.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		conns:    make(map[uuid.UUID]*gws.Conn),
	}
	go s.broadcastLoop(events)
	return s
}

func (s *BroadcastServer) broadcastLoop(events <-chan *api.Event) {
	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			glog.Errorf("websocket: marshalling event: %v", err)
			continue
		}
		s.broadcast(payload)
	}
}

func (s *BroadcastServer) broadcast(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.conns {
		if err := conn.WriteMessage(gws.TextMessage, payload); err != nil {
			glog.Warningf("websocket: dropping connection %s: %v", id, err)
			conn.Close()
			delete(s.conns, id)
		}
	}
}

// HandleUpgrade upgrades r into a tracked connection and blocks reading
// from it (discarding messages, since commands no longer arrive over this
// socket) until it closes, deregistering the connection on return. This is
// the read half of the standard gorilla read/write pump split; the write
// half is broadcastLoop.
func (s *BroadcastServer) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("websocket: upgrade failed: %v", err)
		return
	}

	id := uuid.New()
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	glog.V(1).Infof("websocket: client %s connected", id)

	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		conn.Close()
		glog.V(1).Infof("websocket: client %s disconnected", id)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
