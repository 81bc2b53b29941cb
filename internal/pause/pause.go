// Package pause implements the PauseCoordinator and DebugHookDispatcher of
// spec §4.1/§5: the state machine that serializes the one VM thread against
// pause/continue/step requests arriving from the networking thread, and the
// line-hook adapter that drives it from a live gopher-lua state.
//
// gopher-lua has no debug.sethook (or any hook mechanism at all — confirmed
// by grepping the vendored v1.1.1 source for "hook": zero matches outside
// this package). DebugHookDispatcher therefore does not install a VM-level
// hook; internal/instrument rewrites the script's source so it calls a
// registered global once per executed line, and DebugHookDispatcher is that
// global's Go-side receiver.
package pause

import (
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/golang/glog"
	"github.com/lweaver/sqdbg/api"
	"github.com/lweaver/sqdbg/internal/breakpoint"
	"github.com/lweaver/sqdbg/internal/vmaccess"
)

const logTag = "pause"

// LineHookGlobal is the name AttachVm registers the line hook under and
// internal/instrument emits calls to. Double-underscore-prefixed to stay
// out of the way of conventional Lua globals.
const LineHookGlobal = "__sqdbg_line"

// PauseType mirrors the original's PauseType enum, including its one
// deliberate quirk: Pause aliases StepIn's value, since "pause at the next
// line regardless of depth" and "step into whatever runs next" are the
// same wait condition (fire at the very next line event, no depth check).
type PauseType int32

const (
	None PauseType = iota
	StepOut
	StepOver
	StepIn
)

const Pause = StepIn

// EventSink receives the asynchronous events the coordinator produces while
// parked on the VM thread, generalizing the original's MessageEventInterface.
type EventSink interface {
	OnStatusChanged(api.Status)
}

// Coordinator is the PauseCoordinator: the single source of truth for
// whether the VM thread should keep running, and the rendezvous point
// between it and every command arriving from the network. All reads of VM
// state (via vm) are only safe while isPaused is true and c.mu is held;
// internal/inspector must route every VM touch through WithPausedLock.
type Coordinator struct {
	mu sync.Mutex
	cv *sync.Cond

	// requested is read without the lock by the fast-path checks in Pause
	// and Continue; all writes happen under mu.
	requested atomic.Int32

	isPaused bool
	// pausedDepth is the call-stack depth (as reported by OnLine) recorded
	// at the most recent pause; depthAtRequest snapshots it when a step is
	// armed, so OnLine can tell whether a later line is in the same,
	// shallower, or deeper frame without any separate call/return event.
	pausedDepth         int
	depthAtRequest      int
	pendingBreakpointId uint64
	lastStatus          api.Status

	vm   *vmaccess.Access
	bps  *breakpoint.Store
	sink EventSink
}

// New returns a Coordinator wired to vm and bps. Either may be shared with
// other collaborators (internal/inspector uses the same vm once
// WithPausedLock grants access), per spec §4.1.
func New(vm *vmaccess.Access, bps *breakpoint.Store, sink EventSink) *Coordinator {
	c := &Coordinator{vm: vm, bps: bps, sink: sink}
	c.cv = sync.NewCond(&c.mu)
	return c
}

// Pause arms a pause at the next executed line, regardless of call depth.
// Called from the networking thread.
func (c *Coordinator) Pause() api.ReturnCode {
	if PauseType(c.requested.Load()) == None {
		c.mu.Lock()
		if PauseType(c.requested.Load()) == None {
			c.requested.Store(int32(Pause))
		}
		c.mu.Unlock()
	}
	return api.Success
}

// Continue releases a paused (or pausing) VM thread.
func (c *Coordinator) Continue() api.ReturnCode {
	if PauseType(c.requested.Load()) != None {
		c.mu.Lock()
		defer c.mu.Unlock()
		if PauseType(c.requested.Load()) != None {
			c.requested.Store(int32(None))
			c.cv.Broadcast()
			return api.Success
		}
	}
	return api.InvalidNotPaused
}

func (c *Coordinator) step(pauseType PauseType) api.ReturnCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isPaused {
		return api.InvalidNotPaused
	}
	c.depthAtRequest = c.pausedDepth
	c.requested.Store(int32(pauseType))
	c.cv.Broadcast()
	return api.Success
}

// StepOut resumes until the current function returns to its caller, i.e.
// the next line whose depth is shallower than the depth at request time.
func (c *Coordinator) StepOut() api.ReturnCode { return c.step(StepOut) }

// StepOver resumes until the next line at the same depth or shallower.
func (c *Coordinator) StepOver() api.ReturnCode { return c.step(StepOver) }

// StepIn resumes until the very next line, descending into calls.
func (c *Coordinator) StepIn() api.ReturnCode { return c.step(StepIn) }

// Status reports the coordinator's current view of run state without
// touching the VM, per spec §4.1's SendStatus.
func (c *Coordinator) Status() api.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var status api.Status
	switch {
	case c.isPaused:
		status = c.lastStatus
		status.RunState = api.Paused
	case PauseType(c.requested.Load()) == Pause:
		status.RunState = api.Pausing
	case PauseType(c.requested.Load()) != None:
		status.RunState = api.Stepping
	default:
		status.RunState = api.Running
	}
	return status
}

// WithPausedLock runs fn while holding the coordinator's mutex, after
// confirming the VM is actually parked. internal/inspector routes every
// vmaccess call through this so that no stack/variable read can race the
// VM thread resuming mid-read.
func (c *Coordinator) WithPausedLock(fn func() api.ReturnCode) api.ReturnCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isPaused {
		return api.InvalidNotPaused
	}
	return fn()
}

// SetFileBreakpoints replaces all breakpoints for path, returning the
// resolved set for the SetFileBreakpoints response. Every entry's id and
// line must be >= 1 (spec §4.1/§8); any violation rejects the whole call
// with InvalidParameter and leaves the stored set untouched. Every
// gopher-lua line is otherwise considered a valid breakpoint location
// (Verified is always true): the VM has no pre-execution facility to
// confirm a line contains code, unlike Squirrel's
// sq_getsize/pcalled-at-compile-time line tables.
func (c *Coordinator) SetFileBreakpoints(path string, bps []breakpoint.Breakpoint) ([]api.ResolvedBreakpoint, api.ReturnCode) {
	for _, bp := range bps {
		if bp.Id < 1 || bp.Line < 1 {
			return nil, api.InvalidParameter
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fi := c.bps.EnsureFileIdentity(path)
	c.bps.Clear(fi)
	c.bps.AddAll(fi, bps)

	resolved := make([]api.ResolvedBreakpoint, 0, len(bps))
	for _, bp := range bps {
		resolved = append(resolved, api.ResolvedBreakpoint{Id: bp.Id, Line: bp.Line, Verified: true})
	}
	return resolved, api.Success
}

// OnLine is invoked on the VM thread for every executed line (from the
// registered LineHookGlobal), generalizing SquirrelNativeDebugHook's 'l'
// branch: it resolves file+line against the breakpoint store, arms a pause
// on a hit, and parks the caller on the condition variable for as long as a
// pause is in effect. depth is the caller's live call-stack depth, used in
// place of the call/return hook events gopher-lua has no way to deliver.
func (c *Coordinator) OnLine(file string, line uint32, depth int) {
	c.mu.Lock()

	if fi := c.bps.FindFileIdentity(file); fi != nil {
		if bp, ok := c.bps.Lookup(fi, line); ok {
			c.requested.Store(int32(Pause))
			c.depthAtRequest = depth
			c.pendingBreakpointId = bp.Id
		}
	}

	shouldPause := false
	switch PauseType(c.requested.Load()) {
	case None:
	case StepOut:
		shouldPause = depth < c.depthAtRequest
	case StepOver:
		shouldPause = depth <= c.depthAtRequest
	case StepIn: // == Pause
		shouldPause = true
	}

	if shouldPause {
		c.isPaused = true
		c.pausedDepth = depth

		status := api.Status{
			RunState:             api.Paused,
			Stack:                c.captureStackLocked(),
			PausedAtBreakpointId: c.pendingBreakpointId,
		}
		c.lastStatus = status
		c.pendingBreakpointId = 0

		if c.sink != nil {
			c.sink.OnStatusChanged(status)
		}

		c.cv.Wait() // releases c.mu; reacquires before returning
		c.isPaused = false
	}

	c.mu.Unlock()
}

// captureStackLocked must be called with c.mu held and the VM actually
// parked; it walks every live frame via vmaccess, generalizing the
// original's SquirrelVmData::PopulateStack.
func (c *Coordinator) captureStackLocked() []api.StackEntry {
	var stack []api.StackEntry
	for frame := 0; ; frame++ {
		entry, ok := c.vm.StackInfo(frame)
		if !ok {
			break
		}
		stack = append(stack, entry)
	}
	return stack
}

// DebugHookDispatcher installs Coordinator's line observation as a global
// Lua function, since gopher-lua has no debug.sethook for it to hook into.
// internal/instrument arranges for every executed line to call it.
type DebugHookDispatcher struct {
	coordinator *Coordinator
}

// NewDebugHookDispatcher returns a dispatcher bound to coordinator.
func NewDebugHookDispatcher(coordinator *Coordinator) *DebugHookDispatcher {
	return &DebugHookDispatcher{coordinator: coordinator}
}

// Install registers the dispatcher's line function under LineHookGlobal. It
// must run once per attach, before any instrumented script is executed by
// vm. Unlike the debug.sethook-based design it replaces, this cannot fail:
// setting a global is unconditional.
func (d *DebugHookDispatcher) Install(vm *lua.LState) error {
	vm.SetGlobal(LineHookGlobal, vm.NewFunction(d.onLine))
	return nil
}

// onLine is the native function internal/instrument's splice calls once per
// executed line, as __sqdbg_line(lineNumber). It resolves the caller's
// source file and call-stack depth by walking frames the same way
// vmaccess.StackInfo does, then dispatches to the coordinator.
func (d *DebugHookDispatcher) onLine(L *lua.LState) int {
	line := L.CheckInt(1)

	source := ""
	depth := 0
	for i := 1; ; i++ {
		dbg, ok := L.GetStack(i)
		if !ok {
			break
		}
		if i == 1 {
			if _, err := L.GetInfo("S", dbg, lua.LNil); err == nil {
				source = dbg.Source
			} else {
				glog.Warningf("%s: line hook could not resolve caller source: %v", logTag, err)
			}
		}
		depth++
	}

	d.coordinator.OnLine(source, uint32(line), depth)
	return 0
}
