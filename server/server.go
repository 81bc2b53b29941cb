// Package server implements the transport collaborator of spec §5/§6: an
// http.Handler exposing one PUT route per request operation, plus the
// broadcast websocket endpoint, wrapping one internal/agent.Agent.
// Generalizes the teacher's WebsocketServer/Debugger split (a custom
// command-dispatch map paired one-to-one with a single process) into a
// plain http.ServeMux over Agent.Dispatch, following the original source's
// DebugCommandController (PUT routes per command) + WebsocketController
// (the broadcast socket) split.
package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/lweaver/sqdbg/api"
	"github.com/lweaver/sqdbg/internal/agent"
	wsbroadcast "github.com/lweaver/sqdbg/server/websocket"
)

// Config carries the listener configuration, generalizing the teacher's
// WebsocketServer.ListenAddr/ListenPort fields and original_source's
// ListenerConfig.h (host, port, timeouts).
type Config struct {
	ListenAddr   string
	ListenPort   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP+websocket transport wrapping one Agent.
type Server struct {
	config Config
	agent  *agent.Agent
	mux    *http.ServeMux
}

// New returns a Server bound to agentInstance, with routes registered but
// not yet listening.
func New(config Config, agentInstance *agent.Agent) *Server {
	s := &Server{
		config: config,
		agent:  agentInstance,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ListenAndServe binds s.config's address and blocks serving HTTP+websocket
// traffic until the listener fails, generalizing the teacher's
// WebsocketServer.Run.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.ListenPort)
	glog.Infof("server: listening at %s", addr)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve blocks serving HTTP+websocket traffic over an already-bound
// listener, letting callers (tests, or a host process picking its own
// port) control binding separately from serving.
func (s *Server) Serve(lis net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return httpServer.Serve(lis)
}

func (s *Server) registerRoutes() {
	sockets := wsbroadcast.New(s.agent.Events)
	s.mux.HandleFunc("/ws", sockets.HandleUpgrade)

	for _, name := range []api.CommandName{
		api.Pause, api.Continue, api.StepOut, api.StepOver, api.StepIn, api.SendStatus,
		api.GetStackVariablesCmd, api.GetGlobalVariablesCmd, api.SetStackVariableValCmd,
		api.GetImmediateValueCmd, api.SetFileBreakpointsCmd,
	} {
		s.mux.HandleFunc("/"+string(name), s.handleCommand(name))
	}
}

// handleCommand decodes the request body as an api.Command, stamps it with
// name (the route already identifies the operation; the body only needs to
// carry the operation-specific payload field), dispatches it, and writes
// the result with the HTTP status its ReturnCode maps to.
func (s *Server) handleCommand(name api.CommandName) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd api.Command
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				glog.Errorf("server: decoding %s body: %v", name, err)
				writeResult(w, api.CommandResult{Code: api.InvalidParameter})
				return
			}
		}
		cmd.Name = name

		glog.V(1).Infof("server: dispatching %s", name)
		writeResult(w, s.agent.Dispatch(&cmd))
	}
}

func writeResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resultCode(result).HTTPStatus())
	if err := json.NewEncoder(w).Encode(result); err != nil {
		glog.Errorf("server: encoding response: %v", err)
	}
}

func resultCode(result interface{}) api.ReturnCode {
	switch r := result.(type) {
	case api.CommandResult:
		return r.Code
	case api.VariablesResult:
		return r.Code
	case api.VariableResult:
		return r.Code
	case api.ImmediateValueResult:
		return r.Code
	case api.BreakpointsResult:
		return r.Code
	default:
		return api.ErrorInternal
	}
}
