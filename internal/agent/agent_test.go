package agent

import (
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/stretchr/testify/require"

	"github.com/lweaver/sqdbg/api"
)

func newAttachedAgent(t *testing.T) (*Agent, *lua.LState) {
	t.Helper()
	a := New()
	vm := lua.NewState()
	t.Cleanup(vm.Close)
	require.NoError(t, a.AttachVm(vm))
	return a, vm
}

func drainEvent(t *testing.T, a *Agent) *api.Event {
	t.Helper()
	select {
	case ev := <-a.Events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSendStatusEmitsStatusChanged(t *testing.T) {
	a, _ := newAttachedAgent(t)

	require.Equal(t, api.Success, a.SendStatus())
	ev := drainEvent(t, a)
	require.Equal(t, api.StatusChangedEvent, ev.Name)
	require.Equal(t, api.Running, ev.StatusChange.Status.RunState)
}

func TestAttachVmReplacesPrintWithOutputLineEvent(t *testing.T) {
	a, vm := newAttachedAgent(t)

	require.NoError(t, vm.DoString(`print("hello", 42)`))

	ev := drainEvent(t, a)
	require.Equal(t, api.OutputLineEvent, ev.Name)
	require.Equal(t, "hello\t42", ev.Output.Line.Text)
}

func TestPauseThenNextLineStatusChangedThenContinue(t *testing.T) {
	a, _ := newAttachedAgent(t)

	require.Equal(t, api.Success, a.Pause())

	done := make(chan error, 1)
	go func() {
		done <- a.DoString("local x = 1\nx = x + 1\n", "script.lua")
	}()

	ev := drainEvent(t, a)
	require.Equal(t, api.StatusChangedEvent, ev.Name)
	require.Equal(t, api.Paused, ev.StatusChange.Status.RunState)

	require.Equal(t, api.Success, a.Continue())
	require.NoError(t, <-done)
}

func TestDispatchPauseRoutesToCoordinator(t *testing.T) {
	a, _ := newAttachedAgent(t)

	result := a.Dispatch(&api.Command{Name: api.Pause})
	require.Equal(t, api.CommandResult{Code: api.Success}, result)

	done := make(chan error, 1)
	go func() {
		done <- a.DoString("local y = 1\n", "script.lua")
	}()
	drainEvent(t, a)
	require.Equal(t, api.Success, a.Continue())
	require.NoError(t, <-done)
}

func TestDispatchSetFileBreakpointsRoutesToCoordinator(t *testing.T) {
	a, _ := newAttachedAgent(t)

	result := a.Dispatch(&api.Command{
		Name: api.SetFileBreakpointsCmd,
		SetFileBreakpoints: &api.SetFileBreakpointsCommand{
			File:    "script.lua",
			Creates: []api.CreateBreakpoint{{Id: 1, Line: 2}},
		},
	})
	res, ok := result.(api.BreakpointsResult)
	require.True(t, ok)
	require.Equal(t, api.Success, res.Code)
	require.Len(t, res.Resolved, 1)
	require.True(t, res.Resolved[0].Verified)
}

func TestDispatchGetGlobalVariablesRoutesToInspector(t *testing.T) {
	a, vm := newAttachedAgent(t)
	vm.SetGlobal("score", lua.LNumber(9))

	require.Equal(t, api.Success, a.Pause())
	done := make(chan error, 1)
	go func() {
		done <- a.DoString("local z = 1\n", "script.lua")
	}()
	drainEvent(t, a)
	defer func() {
		require.Equal(t, api.Success, a.Continue())
		require.NoError(t, <-done)
	}()

	result := a.Dispatch(&api.Command{
		Name:               api.GetGlobalVariablesCmd,
		GetGlobalVariables: &api.GetGlobalVariablesCommand{Pagination: api.PaginationInfo{Count: 50}},
	})
	res, ok := result.(api.VariablesResult)
	require.True(t, ok)
	require.Equal(t, api.Success, res.Code)

	found := false
	for _, v := range res.Variables {
		if v.PathUiString == "score" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBreakpointHitPausesWithoutExplicitPause(t *testing.T) {
	a, _ := newAttachedAgent(t)

	result := a.Dispatch(&api.Command{
		Name: api.SetFileBreakpointsCmd,
		SetFileBreakpoints: &api.SetFileBreakpointsCommand{
			File:    "script.lua",
			Creates: []api.CreateBreakpoint{{Id: 5, Line: 2}},
		},
	})
	require.Equal(t, api.Success, result.(api.BreakpointsResult).Code)

	done := make(chan error, 1)
	go func() {
		done <- a.DoString("local x = 1\nx = x + 1\n", "script.lua")
	}()

	ev := drainEvent(t, a)
	require.Equal(t, api.StatusChangedEvent, ev.Name)
	require.Equal(t, api.Paused, ev.StatusChange.Status.RunState)
	require.Equal(t, uint64(5), ev.StatusChange.Status.PausedAtBreakpointId)

	require.Equal(t, api.Success, a.Continue())
	require.NoError(t, <-done)
}

func TestDispatchUnknownCommandIsInvalid(t *testing.T) {
	a, _ := newAttachedAgent(t)
	result := a.Dispatch(&api.Command{Name: api.CommandName("Bogus")})
	require.Equal(t, api.CommandResult{Code: api.Invalid}, result)
}
