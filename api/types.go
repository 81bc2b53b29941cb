// Package api defines the wire-stable data transfer objects exchanged
// between a debug client and the agent: return codes, the variable
// description model, breakpoints, and pause status snapshots.
package api

import (
	"strconv"
	"strings"
)

// ReturnCode is the result of every request operation. Values are part of
// the wire contract and must not be renumbered.
type ReturnCode int32

const (
	Success          ReturnCode = 0
	Invalid          ReturnCode = 100
	InvalidNotPaused ReturnCode = 101
	InvalidParameter ReturnCode = 102
	ErrorInternal    ReturnCode = 200
)

func (rc ReturnCode) String() string {
	switch rc {
	case Success:
		return "Success"
	case Invalid:
		return "Invalid"
	case InvalidNotPaused:
		return "InvalidNotPaused"
	case InvalidParameter:
		return "InvalidParameter"
	case ErrorInternal:
		return "ErrorInternal"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps a ReturnCode to the HTTP status the endpoint collaborator
// should use, per spec §6.
func (rc ReturnCode) HTTPStatus() int {
	switch rc {
	case Success:
		return 200
	case ErrorInternal:
		return 500
	default:
		return 400
	}
}

// RunState is the coarse execution state of the attached VM.
type RunState int32

const (
	Running RunState = iota
	Pausing
	Paused
	Stepping
)

func (rs RunState) String() string {
	switch rs {
	case Running:
		return "Running"
	case Pausing:
		return "Pausing"
	case Paused:
		return "Paused"
	case Stepping:
		return "Stepping"
	default:
		return "Unknown"
	}
}

// VariableType classifies a VM value. The ordering is wire-stable; new
// variants must be appended, never inserted.
type VariableType int32

const (
	Null VariableType = iota
	Integer
	Float
	Bool
	String
	Table
	Array
	UserData
	Closure
	NativeClosure
	Generator
	UserPointer
	Thread
	FuncProto
	Class
	Instance
	WeakRef
	Outer
)

func (t VariableType) String() string {
	names := [...]string{
		"Null", "Integer", "Float", "Bool", "String", "Table", "Array",
		"UserData", "Closure", "NativeClosure", "Generator", "UserPointer",
		"Thread", "FuncProto", "Class", "Instance", "WeakRef", "Outer",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return "Unknown"
	}
	return names[t]
}

// Editable reports whether values of this type may be set via
// SetStackVariableValue, per the spec §3 Variable.editable rule.
func (t VariableType) Editable() bool {
	switch t {
	case Bool, Integer, Float, String:
		return true
	default:
		return false
	}
}

// Scope describes where a resolved watch expression or variable root was
// found.
type Scope int32

const (
	ScopeLocal Scope = iota
	ScopeGlobal
	ScopeEvaluation
)

func (s Scope) String() string {
	switch s {
	case ScopeLocal:
		return "Local"
	case ScopeGlobal:
		return "Global"
	case ScopeEvaluation:
		return "Evaluation"
	default:
		return "Unknown"
	}
}

// StackEntry is a snapshot of one call-stack frame, captured while paused.
type StackEntry struct {
	File     string `json:"file"`
	Line     uint32 `json:"line"`
	Function string `json:"function"`
}

// Variable is the client-facing description of one VM value, built by the
// inspector. See spec §3 for field semantics.
type Variable struct {
	PathIterator      uint64       `json:"pathIterator"`
	PathUiString      string       `json:"pathUiString"`
	PathTableKeyType  VariableType `json:"pathTableKeyType"`
	ValueType         VariableType `json:"valueType"`
	Value             string       `json:"value"`
	ValueRawAddress   uint64       `json:"valueRawAddress"`
	ChildCount        uint32       `json:"childCount"`
	InstanceClassName string       `json:"instanceClassName,omitempty"`
	Editable          bool         `json:"editable"`
}

// VariablePath is an ordered sequence of iterator indices addressing one
// VM value through its ancestors, per spec §3/§4.4.
type VariablePath []uint64

// ParsePath decodes the wire comma-separated path format. An empty string
// decodes to an empty (root) path.
func ParsePath(s string) (VariablePath, error) {
	if s == "" {
		return VariablePath{}, nil
	}
	parts := strings.Split(s, ",")
	path := make(VariablePath, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		path = append(path, v)
	}
	return path, nil
}

// String encodes the path back to its wire comma-separated format.
func (p VariablePath) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, ",")
}

// PaginationInfo bounds a GetVariables-style child enumeration. Count must
// not exceed MaxPageCount.
type PaginationInfo struct {
	BeginIterator uint64 `json:"beginIterator"`
	Count         uint32 `json:"count"`
}

// MaxPageCount is the hard cap on PaginationInfo.Count, per spec §4.4.
const MaxPageCount = 1000

// MaxTableSizeToSort is the table-size threshold under which children are
// enumerated, sorted alphabetically, and re-addressed by iterator; at or
// above it, native iteration order is used instead. Per spec §4.3.
const MaxTableSizeToSort = 1000

// MaxTableValueStringLength bounds the rendered length of a table/instance
// summary value, per spec §3.
const MaxTableValueStringLength = 20

// ImmediateValue is the result of evaluating a watch expression.
type ImmediateValue struct {
	Variable     Variable `json:"variable"`
	Scope        Scope    `json:"scope"`
	IteratorPath []uint32 `json:"iteratorPath"`
}

// CreateBreakpoint is a client-supplied breakpoint request. Both Id and
// Line must be >= 1.
type CreateBreakpoint struct {
	Id   uint64 `json:"id"`
	Line uint32 `json:"line"`
}

// ResolvedBreakpoint is the server's acknowledgement of one CreateBreakpoint.
type ResolvedBreakpoint struct {
	Id       uint64 `json:"id"`
	Line     uint32 `json:"line"`
	Verified bool   `json:"verified"`
}

// Status is a pause snapshot, produced whenever the VM enters Paused and
// whenever the client requests it via SendStatus.
type Status struct {
	RunState             RunState     `json:"runState"`
	Stack                []StackEntry `json:"stack"`
	PausedAtBreakpointId uint64       `json:"pausedAtBreakpointId"`
}

// OutputLine carries one line of VM print/error output.
type OutputLine struct {
	Text  string `json:"text"`
	IsErr bool   `json:"isErr"`
	File  string `json:"file"`
	Line  uint32 `json:"line"`
}
