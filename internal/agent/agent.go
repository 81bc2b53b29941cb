// Package agent implements the Agent façade of spec §3/§7: the single
// collaborator a host process embeds to get pause/continue/step,
// breakpoints, variable inspection, watch evaluation, and output streaming
// over one attached scripting VM. It wires together internal/vmaccess,
// internal/breakpoint, internal/pause and internal/inspector, generalizing
// the teacher's server.Debugger (a Commands/Events channel façade over
// proctl.DebuggedProcess).
package agent

import (
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/golang/glog"
	"github.com/lweaver/sqdbg/api"
	"github.com/lweaver/sqdbg/internal/breakpoint"
	"github.com/lweaver/sqdbg/internal/inspector"
	"github.com/lweaver/sqdbg/internal/instrument"
	"github.com/lweaver/sqdbg/internal/pause"
	"github.com/lweaver/sqdbg/internal/vmaccess"
	"github.com/lweaver/sqdbg/internal/watch"
)

const logTag = "agent"

// Agent is the façade spec §3/§7 describes. Unlike the teacher's Debugger,
// request operations are ordinary synchronous methods rather than a
// Commands channel drained by a single goroutine: that design existed to
// satisfy ptrace(2)'s one-thread-per-attach requirement, which has no
// analogue for an embedded scripting VM. internal/pause.Coordinator's mutex
// already serializes every VM touch, so a dispatch goroutine would only add
// latency. Events remain a channel because multiple connected clients
// genuinely need independent fan-out of the same notification stream.
type Agent struct {
	// Events is pushed to on every StatusChanged/OutputLine occurrence.
	// Transports (server/websocket) drain this and broadcast to every
	// connected client.
	Events chan *api.Event

	vm          *vmaccess.Access
	raw         *lua.LState
	bps         *breakpoint.Store
	coordinator *pause.Coordinator
	hooks       *pause.DebugHookDispatcher
	inspector   *inspector.Inspector
}

// New returns an unattached Agent. AttachVm must be called once the host
// process has a scripting VM ready to debug.
func New() *Agent {
	a := &Agent{
		Events: make(chan *api.Event, 64),
		vm:     vmaccess.New(),
		bps:    breakpoint.New(),
	}
	a.coordinator = pause.New(a.vm, a.bps, a)
	a.hooks = pause.NewDebugHookDispatcher(a.coordinator)
	a.inspector = inspector.New(a.vm, a.coordinator)
	return a
}

// AttachVm binds vm as the scripting state this Agent debugs: it installs
// the debug-hook dispatcher and replaces the VM's print global so script
// output can be forwarded as OutputLine events, per spec §3's VM-side
// callbacks.
func (a *Agent) AttachVm(vm *lua.LState) error {
	a.vm.AttachVm(vm)
	a.raw = vm
	if err := a.hooks.Install(vm); err != nil {
		return fmt.Errorf("%s: installing debug hook: %w", logTag, err)
	}
	vm.SetGlobal("print", vm.NewFunction(a.onPrint))
	return nil
}

// DetachVm releases the bound VM. The host process must not run script
// code concurrently with this call.
func (a *Agent) DetachVm() {
	a.vm.DetachVm()
	a.raw = nil
}

// DoFile instruments path's source so every executed line reports itself to
// the pause coordinator, then runs it on the attached VM. Host processes
// must load scripts this way instead of calling vm.DoFile directly: an
// un-instrumented script never calls LineHookGlobal, so breakpoints,
// Pause and stepping would never fire against it.
func (a *Agent) DoFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: reading %s: %w", logTag, path, err)
	}
	return a.DoString(string(src), path)
}

// DoString instruments src (reported under name for breakpoint file
// matching and stack traces) and runs it on the attached VM.
func (a *Agent) DoString(src, name string) error {
	if a.raw == nil {
		return fmt.Errorf("%s: no VM attached", logTag)
	}
	instrumented, err := instrument.Source(src, pause.LineHookGlobal, name)
	if err != nil {
		return fmt.Errorf("%s: instrumenting %s: %w", logTag, name, err)
	}

	fn, err := a.raw.Load(strings.NewReader(instrumented), name)
	if err != nil {
		return fmt.Errorf("%s: loading %s: %w", logTag, name, err)
	}
	a.raw.Push(fn)
	return a.raw.PCall(0, lua.MultRet, nil)
}

// OnStatusChanged implements pause.EventSink, forwarding pause-state
// transitions as StatusChanged events.
func (a *Agent) OnStatusChanged(status api.Status) {
	a.emit(&api.Event{Name: api.StatusChangedEvent, StatusChange: &api.StatusChangedData{Status: status}})
}

// onPrint replaces the VM's built-in print, tab-joining its arguments via
// tostring (matching vanilla Lua's print semantics) and forwarding the
// result as an OutputLine instead of writing to the host's stdout.
func (a *Agent) onPrint(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, top)
	for i := 1; i <= top; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}

	line := api.OutputLine{Text: strings.Join(parts, "\t")}
	if dbg, ok := L.GetStack(1); ok {
		if _, err := L.GetInfo("Sl", dbg, lua.LNil); err == nil {
			line.File = dbg.Source
			line.Line = uint32(dbg.CurrentLine)
		}
	}
	a.emit(&api.Event{Name: api.OutputLineEvent, Output: &api.OutputLineData{Line: line}})
	return 0
}

func (a *Agent) emit(event *api.Event) {
	select {
	case a.Events <- event:
	default:
		glog.Warningf("%s: event channel full, dropping %s", logTag, event.Name)
	}
}

// Pause requests a pause at the next executed line.
func (a *Agent) Pause() api.ReturnCode { return a.coordinator.Pause() }

// Continue releases a paused VM.
func (a *Agent) Continue() api.ReturnCode { return a.coordinator.Continue() }

// StepOut resumes until the current function returns to its caller.
func (a *Agent) StepOut() api.ReturnCode { return a.coordinator.StepOut() }

// StepOver resumes until the next line in the current frame.
func (a *Agent) StepOver() api.ReturnCode { return a.coordinator.StepOver() }

// StepIn resumes until the very next executed line.
func (a *Agent) StepIn() api.ReturnCode { return a.coordinator.StepIn() }

// SendStatus reports the current run state as a StatusChanged event.
func (a *Agent) SendStatus() api.ReturnCode {
	a.OnStatusChanged(a.coordinator.Status())
	return api.Success
}

// GetStackVariables resolves cmd against the paused VM's stack.
func (a *Agent) GetStackVariables(cmd api.GetStackVariablesCommand) api.VariablesResult {
	path, err := api.ParsePath(cmd.Path)
	if err != nil {
		return api.VariablesResult{Code: api.InvalidParameter}
	}
	vars, code := a.inspector.GetStackVariables(cmd.Frame, path, cmd.Pagination)
	return api.VariablesResult{Code: code, Variables: vars}
}

// GetGlobalVariables resolves cmd against the VM's global table.
func (a *Agent) GetGlobalVariables(cmd api.GetGlobalVariablesCommand) api.VariablesResult {
	path, err := api.ParsePath(cmd.Path)
	if err != nil {
		return api.VariablesResult{Code: api.InvalidParameter}
	}
	vars, code := a.inspector.GetGlobalVariables(path, cmd.Pagination)
	return api.VariablesResult{Code: code, Variables: vars}
}

// SetStackVariableValue parses cmd.NewValue against the existing value's
// type and writes it back.
func (a *Agent) SetStackVariableValue(cmd api.SetStackVariableValueCommand) api.VariableResult {
	path, err := api.ParsePath(cmd.Path)
	if err != nil {
		return api.VariableResult{Code: api.InvalidParameter}
	}
	v, code := a.inspector.SetStackVariableValue(cmd.Frame, path, cmd.NewValue)
	if code != api.Success {
		return api.VariableResult{Code: code}
	}
	return api.VariableResult{Code: code, Variable: &v}
}

// GetImmediateValue evaluates cmd.Expression as a watch expression.
func (a *Agent) GetImmediateValue(cmd api.GetImmediateValueCommand) api.ImmediateValueResult {
	if _, err := watch.Parse(cmd.Expression); err != nil {
		return api.ImmediateValueResult{Code: api.InvalidParameter}
	}
	v, code := a.inspector.GetImmediateValue(cmd.Frame, cmd.Expression, cmd.Pagination)
	if code != api.Success {
		return api.ImmediateValueResult{Code: code}
	}
	return api.ImmediateValueResult{Code: code, Value: &v}
}

// SetFileBreakpoints replaces every breakpoint in cmd.File.
func (a *Agent) SetFileBreakpoints(cmd api.SetFileBreakpointsCommand) api.BreakpointsResult {
	bps := make([]breakpoint.Breakpoint, len(cmd.Creates))
	for i, c := range cmd.Creates {
		bps[i] = breakpoint.Breakpoint{Id: c.Id, Line: c.Line}
	}
	resolved, code := a.coordinator.SetFileBreakpoints(cmd.File, bps)
	return api.BreakpointsResult{Code: code, Resolved: resolved}
}

// Dispatch routes a generic Command to its operation, for transports (like
// server/websocket) that receive the wire envelope directly. It replaces
// the teacher's uniform commandHandler map: request operations here return
// different result shapes, which a type switch expresses more directly
// than a map of same-signature funcs would.
func (a *Agent) Dispatch(cmd *api.Command) interface{} {
	switch cmd.Name {
	case api.Pause:
		return api.CommandResult{Code: a.Pause()}
	case api.Continue:
		return api.CommandResult{Code: a.Continue()}
	case api.StepOut:
		return api.CommandResult{Code: a.StepOut()}
	case api.StepOver:
		return api.CommandResult{Code: a.StepOver()}
	case api.StepIn:
		return api.CommandResult{Code: a.StepIn()}
	case api.SendStatus:
		return api.CommandResult{Code: a.SendStatus()}
	case api.GetStackVariablesCmd:
		if cmd.GetStackVariables == nil {
			return api.VariablesResult{Code: api.InvalidParameter}
		}
		return a.GetStackVariables(*cmd.GetStackVariables)
	case api.GetGlobalVariablesCmd:
		if cmd.GetGlobalVariables == nil {
			return api.VariablesResult{Code: api.InvalidParameter}
		}
		return a.GetGlobalVariables(*cmd.GetGlobalVariables)
	case api.SetStackVariableValCmd:
		if cmd.SetStackVariableValue == nil {
			return api.VariableResult{Code: api.InvalidParameter}
		}
		return a.SetStackVariableValue(*cmd.SetStackVariableValue)
	case api.GetImmediateValueCmd:
		if cmd.GetImmediateValue == nil {
			return api.ImmediateValueResult{Code: api.InvalidParameter}
		}
		return a.GetImmediateValue(*cmd.GetImmediateValue)
	case api.SetFileBreakpointsCmd:
		if cmd.SetFileBreakpoints == nil {
			return api.BreakpointsResult{Code: api.InvalidParameter}
		}
		return a.SetFileBreakpoints(*cmd.SetFileBreakpoints)
	default:
		glog.Errorf("%s: no handler for command %s", logTag, cmd.Name)
		return api.CommandResult{Code: api.Invalid}
	}
}
