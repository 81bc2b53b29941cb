package vmaccess

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
	"github.com/stretchr/testify/require"

	"github.com/lweaver/sqdbg/api"
)

func newAttached(t *testing.T) (*Access, *lua.LState) {
	t.Helper()
	vm := lua.NewState()
	t.Cleanup(vm.Close)
	a := New()
	a.AttachVm(vm)
	return a, vm
}

func TestTopTypePrimitives(t *testing.T) {
	a, _ := newAttached(t)

	require.Equal(t, api.Null, a.TopType(lua.LNil))
	require.Equal(t, api.Bool, a.TopType(lua.LTrue))
	require.Equal(t, api.Integer, a.TopType(lua.LNumber(42)))
	require.Equal(t, api.Float, a.TopType(lua.LNumber(4.5)))
	require.Equal(t, api.String, a.TopType(lua.LString("hi")))
}

func TestTopTypeArrayVsTable(t *testing.T) {
	a, vm := newAttached(t)

	arr := vm.NewTable()
	arr.Append(lua.LNumber(1))
	arr.Append(lua.LNumber(2))
	require.Equal(t, api.Array, a.TopType(arr))

	dict := vm.NewTable()
	dict.RawSetString("x", lua.LNumber(1))
	require.Equal(t, api.Table, a.TopType(dict))
}

func TestTopTypeClassAndInstance(t *testing.T) {
	a, vm := newAttached(t)

	cls := vm.NewTable()
	clsMt := vm.NewTable()
	clsMt.RawSetString(classMarker, cls)
	vm.SetMetatable(cls, clsMt)
	require.Equal(t, api.Class, a.TopType(cls))

	instance := vm.NewTable()
	vm.SetMetatable(instance, clsMt)
	require.Equal(t, api.Instance, a.TopType(instance))
}

func TestTopToStringPrimitives(t *testing.T) {
	a, _ := newAttached(t)

	require.Equal(t, "null", a.TopToString(lua.LNil))
	require.Equal(t, "true", a.TopToString(lua.LTrue))
	require.Equal(t, "false", a.TopToString(lua.LFalse))
	require.Equal(t, "hello", a.TopToString(lua.LString("hello")))
}

func TestTopToStringArraySummary(t *testing.T) {
	a, vm := newAttached(t)

	arr := vm.NewTable()
	arr.Append(lua.LNumber(1))
	arr.Append(lua.LNumber(2))
	arr.Append(lua.LNumber(3))
	require.Equal(t, "{ size=3 }", a.TopToString(arr))
}

func TestEnumerateSortsSmallTablesByStringifiedKey(t *testing.T) {
	a, vm := newAttached(t)

	tbl := vm.NewTable()
	tbl.RawSetString("b", lua.LNumber(2))
	tbl.RawSetString("a", lua.LNumber(1))
	tbl.RawSetString("c", lua.LNumber(3))

	entries := a.Enumerate(tbl)
	require.Len(t, entries, 3)
	require.Equal(t, "a", string(entries[0].Key.(lua.LString)))
	require.Equal(t, "b", string(entries[1].Key.(lua.LString)))
	require.Equal(t, "c", string(entries[2].Key.(lua.LString)))
	require.Equal(t, uint64(0), entries[0].Iterator)
	require.Equal(t, uint64(2), entries[2].Iterator)
}

func TestNextChildReaddressesByIterator(t *testing.T) {
	a, vm := newAttached(t)

	tbl := vm.NewTable()
	tbl.RawSetString("a", lua.LNumber(1))
	tbl.RawSetString("b", lua.LNumber(2))

	entries := a.Enumerate(tbl)
	key, value, ok := a.NextChild(tbl, entries[1].Iterator)
	require.True(t, ok)
	require.Equal(t, entries[1].Key, key)
	require.Equal(t, entries[1].Value, value)

	_, _, ok = a.NextChild(tbl, uint64(len(entries)))
	require.False(t, ok)
}

func TestTopSizeCountsDelegateForInstances(t *testing.T) {
	a, vm := newAttached(t)

	cls := vm.NewTable()
	cls.RawSetString("Method", vm.NewFunction(func(*lua.LState) int { return 0 }))
	clsMt := vm.NewTable()
	clsMt.RawSetString(classMarker, cls)

	instance := vm.NewTable()
	vm.SetMetatable(instance, clsMt)

	require.Equal(t, 1, a.TopSize(instance))
}

func TestSetPrimitiveByPathTypedParsing(t *testing.T) {
	a, _ := newAttached(t)

	v, code := a.SetPrimitiveByPath(lua.LNumber(1), "42")
	require.Equal(t, api.Success, code)
	require.Equal(t, lua.LNumber(42), v)

	v, code = a.SetPrimitiveByPath(lua.LNumber(1.5), "3.25")
	require.Equal(t, api.Success, code)
	require.Equal(t, lua.LNumber(3.25), v)

	v, code = a.SetPrimitiveByPath(lua.LTrue, "false")
	require.Equal(t, api.Success, code)
	require.Equal(t, lua.LFalse, v)

	v, code = a.SetPrimitiveByPath(lua.LString("x"), "y")
	require.Equal(t, api.Success, code)
	require.Equal(t, lua.LString("y"), v)

	_, code = a.SetPrimitiveByPath(lua.LTrue, "not-a-bool")
	require.Equal(t, api.InvalidParameter, code)

	_, code = a.SetPrimitiveByPath(lua.LNumber(1), "not-a-number")
	require.Equal(t, api.InvalidParameter, code)
}

func TestClassFullNameResolvesDottedNamespace(t *testing.T) {
	a, vm := newAttached(t)

	inner := vm.NewTable()
	innerMt := vm.NewTable()
	innerMt.RawSetString(classMarker, inner)
	vm.SetMetatable(inner, innerMt)

	ns := vm.NewTable()
	ns.RawSetString("Widget", inner)
	vm.SetGlobal("ui", ns)

	require.Equal(t, "ui.Widget", a.ClassFullName(inner))
}

// PushLocal/SetLocal/StackInfo only have a live call frame to read while
// the VM is actually executing (e.g. parked mid-line-hook). StackInfo is
// exercised end-to-end by internal/agent's tests, which run real
// instrumented Lua source through DebugHookDispatcher's registered line
// hook and capture the stack on pause; no test reads or writes a local
// through PushLocal/SetLocal with a live frame. This package's unit tests
// cover the frame-independent primitives above.
