// Package vmaccess implements VmAccess (spec §4.3): the primitive
// inspection operations over one attached scripting VM. This
// implementation targets gopher-lua (github.com/yuin/gopher-lua) as the
// embedded VM — see SPEC_FULL.md §2. All operations here assume the VM is
// quiescent, i.e. parked in the debug hook (spec §5); callers must hold
// that guarantee before calling into this package.
package vmaccess

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/golang/glog"
	"github.com/lweaver/sqdbg/api"
)

const logTag = "vmaccess"

// Access owns the handle to one attached gopher-lua state and exposes the
// read/mutation primitives the inspector needs.
type Access struct {
	vm *lua.LState

	// classNames caches table pointer identity -> dotted namespace,
	// populated by ClassFullName's DFS and invalidated whenever the VM
	// resumes (the cache is only valid for one paused inspection session,
	// since user code can rebind globals between pauses).
	classNames map[*lua.LTable]string
}

// New returns an Access with no VM attached.
func New() *Access {
	return &Access{}
}

// AttachVm binds vm as the state this Access operates on, per the
// AttachVm/DetachVm lifecycle of spec §3.
func (a *Access) AttachVm(vm *lua.LState) {
	a.vm = vm
	a.classNames = nil
}

// DetachVm releases the bound VM. Any subsequent primitive call on this
// Access is a programming error; callers must gate access through
// PauseCoordinator state, not through this type.
func (a *Access) DetachVm() {
	a.vm = nil
	a.classNames = nil
}

func (a *Access) Attached() bool {
	return a.vm != nil
}

// Global returns the VM's global table, the root internal/inspector walks
// for GetGlobalVariables and watch-expression fallback resolution.
func (a *Access) Global() lua.LValue {
	return a.vm.GetGlobal("_G")
}

// scopedTopGuard records the operand-stack depth at construction time and
// asserts it is unchanged at release, in debug builds. Grounded on the
// original source's ScopedVerifySqTop; this is a mechanical safety net,
// not a correctness mechanism (spec §9).
type scopedTopGuard struct {
	vm    *lua.LState
	entry int
}

func newScopedTopGuard(vm *lua.LState) *scopedTopGuard {
	return &scopedTopGuard{vm: vm, entry: vm.GetTop()}
}

func (g *scopedTopGuard) release() error {
	if exit := g.vm.GetTop(); exit != g.entry {
		glog.Errorf("%s: operand stack unbalanced: entry=%d exit=%d", logTag, g.entry, exit)
		if debugBuild {
			panic(fmt.Sprintf("vmaccess: operand stack unbalanced: entry=%d exit=%d", g.entry, exit))
		}
		return fmt.Errorf("operand stack unbalanced")
	}
	return nil
}

// debugBuild gates the hard assert in scopedTopGuard.release to debug
// builds only; production builds log and return ErrorInternal instead of
// crashing the host process, per spec §7.
var debugBuild = false

// TopType classifies v per the VariableType enum, generalizing the
// original source's sdb_sq_typeof to gopher-lua's LValueType.
func (a *Access) TopType(v lua.LValue) api.VariableType {
	switch v.Type() {
	case lua.LTNil:
		return api.Null
	case lua.LTBool:
		return api.Bool
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n == float64(int64(n)) {
			return api.Integer
		}
		return api.Float
	case lua.LTString:
		return api.String
	case lua.LTTable:
		t := v.(*lua.LTable)
		if isInstanceTable(t) {
			return api.Instance
		}
		if isClassTable(t) {
			return api.Class
		}
		if isArrayLike(t) {
			return api.Array
		}
		return api.Table
	case lua.LTFunction:
		if v.(*lua.LFunction).IsG {
			return api.NativeClosure
		}
		return api.Closure
	case lua.LTUserData:
		return api.UserData
	case lua.LTThread:
		return api.Thread
	case lua.LTChannel:
		return api.UserPointer
	default:
		return api.Null
	}
}

// isArrayLike reports whether t's keys are exactly the contiguous integers
// 1..Len() with no holes and no string keys, i.e. it behaves like an
// array rather than a dictionary table.
func isArrayLike(t *lua.LTable) bool {
	n := t.Len()
	if n == 0 {
		nk, _ := t.Next(lua.LNil)
		return nk == lua.LNil
	}
	count := 0
	key := lua.LValue(lua.LNil)
	for {
		nk, _ := t.Next(key)
		if nk == lua.LNil {
			break
		}
		if nk.Type() != lua.LTNumber {
			return false
		}
		f := float64(nk.(lua.LNumber))
		if f != float64(int64(f)) || int64(f) < 1 {
			return false
		}
		count++
		key = nk
	}
	return count == n
}

// classMarker is the conventional field a table-based "class" carries in
// the idiomatic Lua OOP pattern (`Cls = {}; Cls.__index = Cls`), used here
// to distinguish classes/instances from plain tables/arrays, generalizing
// Squirrel's first-class OT_CLASS/OT_INSTANCE distinction. The checks read
// the field from a table's metatable: isClassTable accepts a table whose
// metatable's __index is the table itself, isInstanceTable one whose
// metatable's __index is some other table. A class built with the idiom
// above and given no metatable of its own is classified as a plain table.
const classMarker = "__index"

func isClassTable(t *lua.LTable) bool {
	mt := t.Metatable
	if mt == nil || mt == lua.LNil {
		return false
	}
	mtTable, ok := mt.(*lua.LTable)
	if !ok {
		return false
	}
	idx := mtTable.RawGetString(classMarker)
	return idx == t
}

func isInstanceTable(t *lua.LTable) bool {
	mt := t.Metatable
	if mt == nil || mt == lua.LNil {
		return false
	}
	mtTable, ok := mt.(*lua.LTable)
	if !ok {
		return false
	}
	idx := mtTable.RawGetString(classMarker)
	if idx == nil || idx == lua.LNil {
		return false
	}
	idxTable, ok := idx.(*lua.LTable)
	return ok && idxTable != t
}

// delegateOf returns the table used to enumerate an instance's
// fields+methods for display (spec §4.4 "Building a Variable"), the Lua
// analogue of Squirrel's instance delegate.
func delegateOf(t *lua.LTable) *lua.LTable {
	mt, ok := t.Metatable.(*lua.LTable)
	if !ok {
		return t
	}
	idx, ok := mt.RawGetString(classMarker).(*lua.LTable)
	if !ok {
		return t
	}
	return idx
}

// TopSize returns the number of navigable children of v (array length,
// table/instance key count).
func (a *Access) TopSize(v lua.LValue) int {
	t, ok := v.(*lua.LTable)
	if !ok {
		return 0
	}
	if isInstanceTable(t) {
		return tableSize(delegateOf(t))
	}
	return tableSize(t)
}

func tableSize(t *lua.LTable) int {
	n := 0
	key := lua.LValue(lua.LNil)
	for {
		nk, _ := t.Next(key)
		if nk == lua.LNil {
			break
		}
		n++
		key = nk
	}
	return n
}

// TopToString renders v per the bounded, human-readable summary rules of
// spec §3: primitives exactly; arrays as "{ size=N }"; tables/instances as
// a truncated "{k: v, ...}" summary; instances prefixed with their
// qualified class name; closures as "name(P params, F freevars)". Table
// values inside a table summary are not expanded and render as "{...}".
func (a *Access) TopToString(v lua.LValue) string {
	switch v.Type() {
	case lua.LTNil:
		return "null"
	case lua.LTBool:
		if bool(v.(lua.LBool)) {
			return "true"
		}
		return "false"
	case lua.LTNumber:
		return v.String()
	case lua.LTString:
		return string(v.(lua.LString))
	case lua.LTFunction:
		return a.closureSummary(v.(*lua.LFunction))
	case lua.LTTable:
		return a.tableSummary(v.(*lua.LTable))
	default:
		return v.String()
	}
}

func (a *Access) closureSummary(fn *lua.LFunction) string {
	if fn.IsG {
		return "(native)(? params, ? freevars)"
	}
	proto := fn.Proto
	name := proto.SourceName
	if name == "" {
		name = "(anonymous)"
	}
	return fmt.Sprintf("%s(%d params, %d freevars)", name, proto.NumParameters, proto.NumUpvalues)
}

func (a *Access) tableSummary(t *lua.LTable) string {
	if isArrayLike(t) && !isInstanceTable(t) && !isClassTable(t) {
		return fmt.Sprintf("{ size=%d }", t.Len())
	}

	prefix := ""
	summaryTable := t
	if isInstanceTable(t) {
		prefix = a.ClassFullName(t) + " "
		summaryTable = delegateOf(t)
	} else if isClassTable(t) {
		return a.ClassFullName(t)
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString("{")
	entries := a.Enumerate(summaryTable)
	first := true
	for _, e := range entries {
		// Nested tables are not expanded: a table reachable from itself
		// (such as _G._G) would otherwise recurse without end.
		valStr := "{...}"
		if _, nested := e.Value.(*lua.LTable); !nested {
			valStr = a.TopToString(e.Value)
		}
		if valStr == "" {
			continue
		}
		if sb.Len()-len(prefix)-1 >= api.MaxTableValueStringLength {
			break
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(a.TopToString(e.Key))
		sb.WriteString(": ")
		sb.WriteString(valStr)
	}
	sb.WriteString("}")
	return sb.String()
}

// TableEntry is one (key, value, iterator) triple produced by Enumerate.
// Iterator is the position of this entry within THIS particular
// enumeration order, re-addressable by a later call with the same
// ordering rule (sorted below MaxTableSizeToSort, native order at/above
// it) per spec §4.3.
type TableEntry struct {
	Key      lua.LValue
	Value    lua.LValue
	Iterator uint64
}

// Enumerate walks t fully, sorting by stringified key when t has fewer than
// api.MaxTableSizeToSort entries, otherwise preserving native iteration
// order. Grounded on the original source's CreateChildVariables
// table-iteration-stability algorithm (spec §4.3). Used directly by
// internal/inspector's pagination logic.
//
// Arrays are never sorted: per spec §4.3, "for arrays, the iterator is the
// integer index" — sorting would reorder entries by the lexicographic form
// of their key (misplacing e.g. index 10 before index 2) and break the
// iterator-equals-index addressing guarantee arrays require.
func (a *Access) Enumerate(t *lua.LTable) []TableEntry {
	if isArrayLike(t) {
		return enumerateArray(t)
	}

	var raw []TableEntry
	key := lua.LValue(lua.LNil)
	for {
		nk, nv := t.Next(key)
		if nk == lua.LNil {
			break
		}
		raw = append(raw, TableEntry{Key: nk, Value: nv})
		key = nk
	}

	if len(raw) < api.MaxTableSizeToSort {
		sort.SliceStable(raw, func(i, j int) bool {
			return a.TopToString(raw[i].Key) < a.TopToString(raw[j].Key)
		})
	}
	for i := range raw {
		raw[i].Iterator = uint64(i)
	}
	return raw
}

// enumerateArray returns t's elements in native 1..Len() order, iterator i
// addressing the value at Lua index i+1.
func enumerateArray(t *lua.LTable) []TableEntry {
	n := t.Len()
	entries := make([]TableEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = TableEntry{
			Key:      lua.LNumber(i + 1),
			Value:    t.RawGetInt(i + 1),
			Iterator: uint64(i),
		}
	}
	return entries
}

// NextChild returns the (key, value) pair at the given iterator position
// within t's stable enumeration order, or ok=false past the end.
func (a *Access) NextChild(t *lua.LTable, iterator uint64) (key, value lua.LValue, ok bool) {
	entries := a.Enumerate(t)
	if iterator >= uint64(len(entries)) {
		return nil, nil, false
	}
	e := entries[iterator]
	return e.Key, e.Value, true
}

// PushLocal returns the name of the nSeq'th local/free variable in frame,
// or ok=false once positions are exhausted.
func (a *Access) PushLocal(frame int, nSeq int) (name string, value lua.LValue, ok bool) {
	dbg, exists := a.vm.GetStack(frame)
	if !exists {
		return "", nil, false
	}
	n, v := a.vm.GetLocal(dbg, nSeq+1) // gopher-lua locals are 1-indexed
	if n == "" {
		return "", nil, false
	}
	return n, v, true
}

// SetLocal overwrites the nSeq'th local of frame with value, returning
// false if no such local exists.
func (a *Access) SetLocal(frame int, nSeq int, value lua.LValue) bool {
	dbg, exists := a.vm.GetStack(frame)
	if !exists {
		return false
	}
	n := a.vm.SetLocal(dbg, nSeq+1, value)
	return n != ""
}

// StackInfo returns the StackEntry snapshot for frame, or ok=false if
// frame is out of range.
func (a *Access) StackInfo(frame int) (api.StackEntry, bool) {
	dbg, exists := a.vm.GetStack(frame)
	if !exists {
		return api.StackEntry{}, false
	}
	if _, err := a.vm.GetInfo("Snl", dbg, lua.LNil); err != nil {
		glog.Warningf("%s: GetInfo failed for frame %d: %v", logTag, frame, err)
	}
	return api.StackEntry{
		File:     dbg.Source,
		Line:     uint32(dbg.CurrentLine),
		Function: dbg.Name,
	}, true
}

// SetPrimitiveByPath parses newString against existing's current type and
// returns the new value, failing InvalidParameter on type mismatch or
// unparseable input. Only Bool | Integer | Float | String are accepted,
// per spec §4.3.
func (a *Access) SetPrimitiveByPath(existing lua.LValue, newString string) (lua.LValue, api.ReturnCode) {
	switch a.TopType(existing) {
	case api.Bool:
		switch newString {
		case "true":
			return lua.LTrue, api.Success
		case "false":
			return lua.LFalse, api.Success
		default:
			return nil, api.InvalidParameter
		}
	case api.Integer:
		n, err := strconv.ParseInt(newString, 10, 64)
		if err != nil {
			return nil, api.InvalidParameter
		}
		return lua.LNumber(n), api.Success
	case api.Float:
		f, err := strconv.ParseFloat(newString, 64)
		if err != nil {
			return nil, api.InvalidParameter
		}
		return lua.LNumber(f), api.Success
	case api.String:
		return lua.LString(newString), api.Success
	default:
		return nil, api.InvalidParameter
	}
}

// ClassFullName resolves the dotted namespace of a class table (or the
// class of an instance table), per spec §4.3's class-name resolution
// algorithm: a DFS of the global table collecting every reachable
// class/table under its dotted namespace, falling back to a scan of every
// frame's locals when the class was never reached from globals. Cycles
// terminate on already-seen table identities.
func (a *Access) ClassFullName(t *lua.LTable) string {
	target := t
	if isInstanceTable(t) {
		target = delegateOf(t)
	}

	if a.classNames == nil {
		a.classNames = make(map[*lua.LTable]string)
		seen := make(map[*lua.LTable]bool)
		a.collectClassNames(a.vm.GetGlobal("_G").(*lua.LTable), "", seen)
	}
	if name, ok := a.classNames[target]; ok {
		return name
	}

	// Fall back to scanning every frame's locals, per spec §4.3.
	for frame := 0; ; frame++ {
		dbg, exists := a.vm.GetStack(frame)
		if !exists {
			break
		}
		for n := 0; ; n++ {
			name, v := a.vm.GetLocal(dbg, n+1)
			if name == "" {
				break
			}
			if lt, ok := v.(*lua.LTable); ok {
				if lt == target {
					return name
				}
				if isClassTable(lt) {
					seen := map[*lua.LTable]bool{}
					a.collectClassNames(lt, name, seen)
					if found, ok := a.classNames[target]; ok {
						return found
					}
				}
			}
		}
	}

	glog.Warningf("%s: could not resolve class name for table", logTag)
	return "(unknown class)"
}

func (a *Access) collectClassNames(t *lua.LTable, namespace string, seen map[*lua.LTable]bool) {
	if t == nil || seen[t] {
		return
	}
	seen[t] = true

	for _, e := range a.Enumerate(t) {
		keyStr, isString := e.Key.(lua.LString)
		if !isString {
			continue
		}
		child, ok := e.Value.(*lua.LTable)
		if !ok {
			continue
		}
		childNamespace := string(keyStr)
		if namespace != "" {
			childNamespace = namespace + "." + childNamespace
		}
		if isClassTable(child) {
			a.classNames[child] = childNamespace
		} else {
			a.collectClassNames(child, childNamespace, seen)
		}
	}
}
