package terminal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lweaver/sqdbg/api"
)

// fakeClient is a minimal client.Interface double recording the last
// request each method received.
type fakeClient struct {
	events chan *api.Event

	setBreakpointsFile    string
	setBreakpointsCreates []api.CreateBreakpoint
	resolved              []api.ResolvedBreakpoint

	stackVars  []api.Variable
	globalVars []api.Variable

	immediateValue api.ImmediateValue
	immediateErr   error

	setPath  string
	setValue string
	setVar   api.Variable

	returnCode api.ReturnCode
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan *api.Event, 8), returnCode: api.Success}
}

func (f *fakeClient) Open() error  { return nil }
func (f *fakeClient) Close() error { return nil }
func (f *fakeClient) NextEvent() (*api.Event, error) {
	ev, ok := <-f.events
	if !ok {
		return nil, errors.New("closed")
	}
	return ev, nil
}
func (f *fakeClient) Pause() (api.ReturnCode, error)      { return f.returnCode, nil }
func (f *fakeClient) Continue() (api.ReturnCode, error)   { return f.returnCode, nil }
func (f *fakeClient) StepOut() (api.ReturnCode, error)    { return f.returnCode, nil }
func (f *fakeClient) StepOver() (api.ReturnCode, error)   { return f.returnCode, nil }
func (f *fakeClient) StepIn() (api.ReturnCode, error)     { return f.returnCode, nil }
func (f *fakeClient) SendStatus() (api.ReturnCode, error) { return f.returnCode, nil }

func (f *fakeClient) GetStackVariables(frame uint32, path string, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode, error) {
	return f.stackVars, f.returnCode, nil
}

func (f *fakeClient) GetGlobalVariables(path string, pagination api.PaginationInfo) ([]api.Variable, api.ReturnCode, error) {
	return f.globalVars, f.returnCode, nil
}

func (f *fakeClient) SetStackVariableValue(frame uint32, path, newValue string) (api.Variable, api.ReturnCode, error) {
	f.setPath, f.setValue = path, newValue
	return f.setVar, f.returnCode, nil
}

func (f *fakeClient) GetImmediateValue(frame int32, expr string, pagination api.PaginationInfo) (api.ImmediateValue, api.ReturnCode, error) {
	return f.immediateValue, f.returnCode, f.immediateErr
}

func (f *fakeClient) SetFileBreakpoints(file string, creates []api.CreateBreakpoint) ([]api.ResolvedBreakpoint, api.ReturnCode, error) {
	f.setBreakpointsFile = file
	f.setBreakpointsCreates = creates
	return f.resolved, f.returnCode, nil
}

func TestCmdBreakAccumulatesPerFileAndSendsFullSet(t *testing.T) {
	fc := newFakeClient()
	fc.resolved = []api.ResolvedBreakpoint{{Id: 1, Line: 4, Verified: true}}
	term := New(fc)

	require.NoError(t, cmdBreak(term, "script.lua:4"))
	require.Equal(t, "script.lua", fc.setBreakpointsFile)
	require.Len(t, fc.setBreakpointsCreates, 1)
	require.Equal(t, uint32(4), fc.setBreakpointsCreates[0].Line)

	fc.resolved = []api.ResolvedBreakpoint{
		{Id: 1, Line: 4, Verified: true},
		{Id: 2, Line: 9, Verified: true},
	}
	require.NoError(t, cmdBreak(term, "script.lua:9"))
	require.Len(t, fc.setBreakpointsCreates, 2)
}

func TestCmdBreakRejectsMalformedLocation(t *testing.T) {
	term := New(newFakeClient())
	require.Error(t, cmdBreak(term, "script.lua"))
	require.Error(t, cmdBreak(term, "script.lua:notanumber"))
}

func TestCmdSetWritesVariable(t *testing.T) {
	fc := newFakeClient()
	fc.setVar = api.Variable{Value: "42"}
	term := New(fc)

	require.NoError(t, cmdSet(term, "x", "42"))
	require.Equal(t, "x", fc.setPath)
	require.Equal(t, "42", fc.setValue)
}

func TestCmdPrintReportsNonSuccessCode(t *testing.T) {
	fc := newFakeClient()
	fc.returnCode = api.InvalidParameter
	term := New(fc)

	require.Error(t, cmdPrint(term, "doesNotExist"))
}

func TestCommandsFindUnknownReturnsError(t *testing.T) {
	cmds := DebugCommands()
	term := New(newFakeClient())
	require.Error(t, cmds.Find("bogus")(term))
}

func TestCommandsFindKnown(t *testing.T) {
	cmds := DebugCommands()
	term := New(newFakeClient())
	require.NoError(t, cmds.Find("continue")(term))
}
