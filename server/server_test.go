package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"github.com/stretchr/testify/require"

	"github.com/lweaver/sqdbg/api"
	"github.com/lweaver/sqdbg/internal/agent"
)

func newTestServer(t *testing.T) (*httptest.Server, *lua.LState) {
	t.Helper()
	a := agent.New()
	vm := lua.NewState()
	t.Cleanup(vm.Close)
	require.NoError(t, a.AttachVm(vm))

	s := New(Config{}, a)
	ts := httptest.NewServer(s.mux)
	t.Cleanup(ts.Close)
	return ts, vm
}

func putJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPut, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSendStatusRouteReturnsSuccess(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := putJSON(t, ts.URL+"/SendStatus", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.CommandResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, api.Success, result.Code)
}

func TestContinueWithoutPauseReturns400(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := putJSON(t, ts.URL+"/Continue", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result api.CommandResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, api.InvalidNotPaused, result.Code)
}

func TestSetFileBreakpointsRouteRoundTrips(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := putJSON(t, ts.URL+"/SetFileBreakpoints", api.Command{
		SetFileBreakpoints: &api.SetFileBreakpointsCommand{
			File:    "script.lua",
			Creates: []api.CreateBreakpoint{{Id: 3, Line: 11}},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result api.BreakpointsResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, api.Success, result.Code)
	require.Len(t, result.Resolved, 1)
	require.Equal(t, uint64(3), result.Resolved[0].Id)
}

func TestGetGlobalVariablesRouteRejectsMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/GetGlobalVariables", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
