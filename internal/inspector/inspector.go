// Package inspector implements the VariableInspector of spec §4.4/§4.5: it
// builds client-facing Variable descriptions, resolves VariablePath and
// watch-expression navigation against live VM state, and evaluates watch
// expressions against locals then globals. Every exported method must run
// with the VM parked, via internal/pause.Coordinator.WithPausedLock.
package inspector

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/lweaver/sqdbg/api"
	"github.com/lweaver/sqdbg/internal/pause"
	"github.com/lweaver/sqdbg/internal/vmaccess"
	"github.com/lweaver/sqdbg/internal/watch"
)

// Inspector resolves and builds Variable trees over one attached VM,
// generalizing the original's CreateChildVariable/CreateChildVariables/
// sdb_sq_readVariableChildren family of free functions into a
// collaborator-scoped type.
type Inspector struct {
	vm          *vmaccess.Access
	coordinator *pause.Coordinator
}

// New returns an Inspector sharing vm and coordinator with the rest of the
// agent.
func New(vm *vmaccess.Access, coordinator *pause.Coordinator) *Inspector {
	return &Inspector{vm: vm, coordinator: coordinator}
}

// GetStackVariables resolves path within frame's locals and returns either
// the locals themselves (empty path) or the paginated children of the
// value the path addresses.
func (ins *Inspector) GetStackVariables(frame uint32, path api.VariablePath, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode) {
	var result []api.Variable
	code := ins.coordinator.WithPausedLock(func() api.ReturnCode {
		if len(path) == 0 {
			result = ins.listLocals(int(frame))
			return api.Success
		}

		root, ok := ins.resolveLocal(int(frame), path[0])
		if !ok {
			return api.InvalidParameter
		}
		value, rc := ins.walkPath(root, path[1:])
		if rc != api.Success {
			return rc
		}
		vars, rc := ins.children(value, pagination)
		result = vars
		return rc
	})
	return result, code
}

// GetGlobalVariables resolves path within the VM's global table.
func (ins *Inspector) GetGlobalVariables(path api.VariablePath, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode) {
	var result []api.Variable
	code := ins.coordinator.WithPausedLock(func() api.ReturnCode {
		root := ins.globalsTable()
		value, rc := ins.walkPath(root, path)
		if rc != api.Success {
			return rc
		}
		vars, rc := ins.children(value, pagination)
		result = vars
		return rc
	})
	return result, code
}

// SetStackVariableValue parses newValue against the current type of the
// value path addresses within frame, writes it back, and returns the
// updated Variable description.
func (ins *Inspector) SetStackVariableValue(frame uint32, path api.VariablePath, newValue string) (api.Variable, api.ReturnCode) {
	var result api.Variable
	code := ins.coordinator.WithPausedLock(func() api.ReturnCode {
		if len(path) == 0 {
			return api.InvalidParameter
		}

		if len(path) == 1 {
			name, existing, ok := ins.vm.PushLocal(int(frame), int(path[0]))
			if !ok {
				return api.InvalidParameter
			}
			parsed, rc := ins.vm.SetPrimitiveByPath(existing, newValue)
			if rc != api.Success {
				return rc
			}
			if !ins.vm.SetLocal(int(frame), int(path[0]), parsed) {
				return api.ErrorInternal
			}
			result = ins.buildVariable(parsed, path[0], api.String, name)
			return api.Success
		}

		root, ok := ins.resolveLocal(int(frame), path[0])
		if !ok {
			return api.InvalidParameter
		}
		parent, key, rc := ins.walkToParent(root, path[1:])
		if rc != api.Success {
			return rc
		}
		return ins.setTableChild(parent, key, path[len(path)-1], newValue, &result)
	})
	return result, code
}

// GetImmediateValue parses expr with internal/watch and resolves it against
// frame's locals, falling back to globals, building an ImmediateValue on
// success.
func (ins *Inspector) GetImmediateValue(frame int32, expr string, pagination api.PaginationInfo) (api.ImmediateValue, api.ReturnCode) {
	var result api.ImmediateValue
	code := ins.coordinator.WithPausedLock(func() api.ReturnCode {
		node, err := watch.Parse(expr)
		if err != nil {
			return api.InvalidParameter
		}

		value, scope, ok := ins.resolveWatchRoot(int(frame), node)
		if !ok {
			return api.InvalidParameter
		}

		iteratorPath := []uint32{}
		cur := value
		for link := node.Next; link != nil; link = link.Next {
			key, rc := ins.watchKey(cur, link)
			if rc != api.Success {
				return rc
			}
			next, iter, rc := ins.navigateTo(cur, key)
			if rc != api.Success {
				return rc
			}
			iteratorPath = append(iteratorPath, uint32(iter))
			cur = next
		}

		result = api.ImmediateValue{
			Variable:     ins.buildVariable(cur, 0, api.String, expr),
			Scope:        scope,
			IteratorPath: iteratorPath,
		}
		return api.Success
	})
	return result, code
}

// listLocals builds a Variable per local/free variable of frame, per spec
// §4.4's "Building a Variable" for locals (no path navigation needed).
func (ins *Inspector) listLocals(frame int) []api.Variable {
	var vars []api.Variable
	for i := 0; ; i++ {
		name, value, ok := ins.vm.PushLocal(frame, i)
		if !ok {
			break
		}
		vars = append(vars, ins.buildVariable(value, uint64(i), api.String, name))
	}
	return vars
}

func (ins *Inspector) resolveLocal(frame int, iterator uint64) (lua.LValue, bool) {
	_, value, ok := ins.vm.PushLocal(frame, int(iterator))
	return value, ok
}

func (ins *Inspector) globalsTable() lua.LValue {
	return ins.vm.Global()
}

// walkPath steps into value once per remaining path element, each element
// being the iterator position within its container's stable enumeration
// order (spec §4.3/§4.4).
func (ins *Inspector) walkPath(value lua.LValue, path api.VariablePath) (lua.LValue, api.ReturnCode) {
	cur := value
	for _, iterator := range path {
		t, ok := cur.(*lua.LTable)
		if !ok {
			return nil, api.InvalidParameter
		}
		_, child, ok := ins.vm.NextChild(t, iterator)
		if !ok {
			return nil, api.InvalidParameter
		}
		cur = child
	}
	return cur, api.Success
}

// walkToParent is walkPath but stops one short of the end, returning the
// parent table and the final path element (so callers can mutate it).
func (ins *Inspector) walkToParent(value lua.LValue, path api.VariablePath) (*lua.LTable, uint64, api.ReturnCode) {
	if len(path) == 0 {
		t, ok := value.(*lua.LTable)
		if !ok {
			return nil, 0, api.InvalidParameter
		}
		return t, 0, api.Success
	}
	parentValue, rc := ins.walkPath(value, path[:len(path)-1])
	if rc != api.Success {
		return nil, 0, rc
	}
	t, ok := parentValue.(*lua.LTable)
	if !ok {
		return nil, 0, api.InvalidParameter
	}
	return t, path[len(path)-1], api.Success
}

func (ins *Inspector) setTableChild(parent *lua.LTable, iterator uint64, finalIterator uint64, newValue string, out *api.Variable) api.ReturnCode {
	key, existing, ok := ins.vm.NextChild(parent, iterator)
	if !ok {
		return api.InvalidParameter
	}
	parsed, rc := ins.vm.SetPrimitiveByPath(existing, newValue)
	if rc != api.Success {
		return rc
	}
	parent.RawSet(key, parsed)
	*out = ins.buildVariable(parsed, finalIterator, ins.vm.TopType(key), ins.vm.TopToString(key))
	return api.Success
}

// children builds a paginated Variable slice for value's navigable
// children, generalizing CreateChildVariables. A requested count above
// api.MaxPageCount is rejected outright rather than clamped, per spec §4.4/§8.
func (ins *Inspector) children(value lua.LValue, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode) {
	t, ok := value.(*lua.LTable)
	if !ok {
		return nil, api.Success
	}

	if pagination.Count > api.MaxPageCount {
		return nil, api.InvalidParameter
	}
	count := pagination.Count
	if count == 0 {
		count = api.MaxPageCount
	}

	entries := ins.vm.Enumerate(t)
	var vars []api.Variable
	for i := pagination.BeginIterator; i < uint64(len(entries)) && uint64(len(vars)) < uint64(count); i++ {
		e := entries[i]
		vars = append(vars, ins.buildVariable(e.Value, e.Iterator, ins.vm.TopType(e.Key), ins.vm.TopToString(e.Key)))
	}
	return vars, api.Success
}

// buildVariable assembles the client-facing Variable for value, generalizing
// CreateChildVariable.
func (ins *Inspector) buildVariable(value lua.LValue, iterator uint64, keyType api.VariableType, uiString string) api.Variable {
	valueType := ins.vm.TopType(value)
	v := api.Variable{
		PathIterator:     iterator,
		PathUiString:     uiString,
		PathTableKeyType: keyType,
		ValueType:        valueType,
		Value:            ins.vm.TopToString(value),
		ChildCount:       uint32(ins.vm.TopSize(value)),
		Editable:         valueType.Editable(),
	}
	if valueType == api.Instance {
		if t, ok := value.(*lua.LTable); ok {
			v.InstanceClassName = ins.vm.ClassFullName(t)
		}
	}
	return v
}

// resolveWatchRoot resolves the primary identifier of a watch expression,
// per spec §4.5: locals first, then globals.
func (ins *Inspector) resolveWatchRoot(frame int, node *watch.Node) (lua.LValue, api.Scope, bool) {
	if node.Kind != watch.Identifier {
		return nil, 0, false
	}
	for i := 0; ; i++ {
		name, value, ok := ins.vm.PushLocal(frame, i)
		if !ok {
			break
		}
		if name == node.Text {
			return value, api.ScopeLocal, true
		}
	}

	global := ins.globalsTable()
	t, ok := global.(*lua.LTable)
	if !ok {
		return nil, 0, false
	}
	value := t.RawGetString(node.Text)
	if value == lua.LNil {
		return nil, 0, false
	}
	return value, api.ScopeGlobal, true
}

// watchKey evaluates the key a '.' IDENT or '[' expr ']' link addresses.
// Bracket links carry their own sub-expression as link.Accessor, which must
// itself be a literal (navigation-only grammar, spec §4.5); dotted links
// carry the member name directly.
func (ins *Inspector) watchKey(_ lua.LValue, link *watch.Node) (lua.LValue, api.ReturnCode) {
	if link.Accessor == nil {
		return lua.LString(link.Text), api.Success
	}
	switch link.Accessor.Kind {
	case watch.Number:
		var n int64
		if _, err := fmt.Sscanf(link.Accessor.Text, "%d", &n); err != nil {
			return nil, api.InvalidParameter
		}
		return lua.LNumber(n), api.Success
	case watch.String:
		return lua.LString(link.Accessor.Text), api.Success
	default:
		return nil, api.InvalidParameter
	}
}

// navigateTo steps into container via key, returning the child value and
// the iterator position of that child within container's stable
// enumeration order (so clients can re-address it through GetStackVariables
// /GetGlobalVariables pagination afterward).
func (ins *Inspector) navigateTo(container lua.LValue, key lua.LValue) (lua.LValue, uint64, api.ReturnCode) {
	t, ok := container.(*lua.LTable)
	if !ok {
		return nil, 0, api.InvalidParameter
	}
	entries := ins.vm.Enumerate(t)
	for _, e := range entries {
		if e.Key == key {
			return e.Value, e.Iterator, api.Success
		}
	}
	return nil, 0, api.InvalidParameter
}
