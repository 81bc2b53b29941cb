// Package client implements the debug-client collaborator of spec §6: the
// request surface a terminal or other tool uses to drive one Agent over
// the network, generalizing the teacher's WebsocketClient/Interface.
// Commands now travel as HTTP PUT requests (server.Server's routes) rather
// than over the websocket, since request operations are synchronous
// round-trips; the websocket remains solely for StatusChanged/OutputLine
// events, matching the teacher's own request/response vs. push split just
// moved onto two different underlying protocols instead of one socket.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	websocket "github.com/gorilla/websocket"

	"github.com/lweaver/sqdbg/api"
)

// Interface is the request surface a terminal or other tool drives against
// one Agent.
type Interface interface {
	// Open dials the event websocket. Commands need no connection of
	// their own: each is sent as a separate HTTP request.
	Open() error
	// Close closes the event websocket.
	Close() error
	// NextEvent blocks until the next StatusChanged/OutputLine event.
	NextEvent() (*api.Event, error)

	Pause() (api.ReturnCode, error)
	Continue() (api.ReturnCode, error)
	StepOut() (api.ReturnCode, error)
	StepOver() (api.ReturnCode, error)
	StepIn() (api.ReturnCode, error)
	SendStatus() (api.ReturnCode, error)
	GetStackVariables(frame uint32, path string, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode, error)
	GetGlobalVariables(path string, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode, error)
	SetStackVariableValue(frame uint32, path, newValue string) (api.Variable, api.ReturnCode, error)
	GetImmediateValue(frame int32, expr string, pagination api.PaginationInfo) (api.ImmediateValue, api.ReturnCode, error)
	SetFileBreakpoints(file string, creates []api.CreateBreakpoint) ([]api.ResolvedBreakpoint, api.ReturnCode, error)
}

var _ = Interface(&HTTPWebsocketClient{})

// HTTPWebsocketClient drives an Agent at addr (e.g. "localhost:1234"):
// commands over HTTP, events over a websocket at the same host.
type HTTPWebsocketClient struct {
	addr       string
	httpClient *http.Client
	conn       *websocket.Conn
}

// NewHTTPWebsocketClient returns a client targeting addr, unopened.
func NewHTTPWebsocketClient(addr string) *HTTPWebsocketClient {
	return &HTTPWebsocketClient{
		addr:       addr,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPWebsocketClient) Open() error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 3 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, resp, err := dialer.Dial(fmt.Sprintf("ws://%s/ws", c.addr), http.Header{})
	if err != nil {
		return fmt.Errorf("dial error: %s\nresponse:%+v", err, resp)
	}
	c.conn = conn
	return nil
}

func (c *HTTPWebsocketClient) Close() error {
	return c.conn.Close()
}

func (c *HTTPWebsocketClient) NextEvent() (*api.Event, error) {
	messageType, message, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("invalid message type %d", messageType)
	}

	dec := json.NewDecoder(strings.NewReader(string(message)))
	var event *api.Event
	if err := dec.Decode(&event); err != nil {
		return nil, err
	}
	return event, nil
}

// put PUTs cmd as JSON to /name and decodes the response into result,
// which must be a pointer to one of api package's *Result types.
func (c *HTTPWebsocketClient) put(name api.CommandName, cmd *api.Command, result interface{}) error {
	var body bytes.Buffer
	if cmd != nil {
		if err := json.NewEncoder(&body).Encode(cmd); err != nil {
			return fmt.Errorf("encoding %s request: %w", name, err)
		}
	}

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("http://%s/%s", c.addr, name), &body)
	if err != nil {
		return fmt.Errorf("building %s request: %w", name, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding %s response: %w", name, err)
	}
	return nil
}

func (c *HTTPWebsocketClient) Pause() (api.ReturnCode, error) {
	var result api.CommandResult
	err := c.put(api.Pause, &api.Command{Name: api.Pause}, &result)
	return result.Code, err
}

func (c *HTTPWebsocketClient) Continue() (api.ReturnCode, error) {
	var result api.CommandResult
	err := c.put(api.Continue, &api.Command{Name: api.Continue}, &result)
	return result.Code, err
}

func (c *HTTPWebsocketClient) StepOut() (api.ReturnCode, error) {
	var result api.CommandResult
	err := c.put(api.StepOut, &api.Command{Name: api.StepOut}, &result)
	return result.Code, err
}

func (c *HTTPWebsocketClient) StepOver() (api.ReturnCode, error) {
	var result api.CommandResult
	err := c.put(api.StepOver, &api.Command{Name: api.StepOver}, &result)
	return result.Code, err
}

func (c *HTTPWebsocketClient) StepIn() (api.ReturnCode, error) {
	var result api.CommandResult
	err := c.put(api.StepIn, &api.Command{Name: api.StepIn}, &result)
	return result.Code, err
}

func (c *HTTPWebsocketClient) SendStatus() (api.ReturnCode, error) {
	var result api.CommandResult
	err := c.put(api.SendStatus, &api.Command{Name: api.SendStatus}, &result)
	return result.Code, err
}

func (c *HTTPWebsocketClient) GetStackVariables(frame uint32, path string, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode, error) {
	var result api.VariablesResult
	err := c.put(api.GetStackVariablesCmd, &api.Command{
		Name:              api.GetStackVariablesCmd,
		GetStackVariables: &api.GetStackVariablesCommand{Frame: frame, Path: path, Pagination: pagination},
	}, &result)
	return result.Variables, result.Code, err
}

func (c *HTTPWebsocketClient) GetGlobalVariables(path string, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode, error) {
	var result api.VariablesResult
	err := c.put(api.GetGlobalVariablesCmd, &api.Command{
		Name:               api.GetGlobalVariablesCmd,
		GetGlobalVariables: &api.GetGlobalVariablesCommand{Path: path, Pagination: pagination},
	}, &result)
	return result.Variables, result.Code, err
}

func (c *HTTPWebsocketClient) SetStackVariableValue(frame uint32, path, newValue string) (api.Variable, api.ReturnCode, error) {
	var result api.VariableResult
	err := c.put(api.SetStackVariableValCmd, &api.Command{
		Name: api.SetStackVariableValCmd,
		SetStackVariableValue: &api.SetStackVariableValueCommand{
			Frame: frame, Path: path, NewValue: newValue,
		},
	}, &result)
	if result.Variable == nil {
		return api.Variable{}, result.Code, err
	}
	return *result.Variable, result.Code, err
}

func (c *HTTPWebsocketClient) GetImmediateValue(frame int32, expr string, pagination api.PaginationInfo) (api.ImmediateValue, api.ReturnCode, error) {
	var result api.ImmediateValueResult
	err := c.put(api.GetImmediateValueCmd, &api.Command{
		Name:              api.GetImmediateValueCmd,
		GetImmediateValue: &api.GetImmediateValueCommand{Frame: frame, Expression: expr, Pagination: pagination},
	}, &result)
	if result.Value == nil {
		return api.ImmediateValue{}, result.Code, err
	}
	return *result.Value, result.Code, err
}

func (c *HTTPWebsocketClient) SetFileBreakpoints(file string, creates []api.CreateBreakpoint) ([]api.ResolvedBreakpoint, api.ReturnCode, error) {
	var result api.BreakpointsResult
	err := c.put(api.SetFileBreakpointsCmd, &api.Command{
		Name:               api.SetFileBreakpointsCmd,
		SetFileBreakpoints: &api.SetFileBreakpointsCommand{File: file, Creates: creates},
	}, &result)
	return result.Resolved, result.Code, err
}
