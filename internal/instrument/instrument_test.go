package instrument

import (
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"github.com/stretchr/testify/require"
)

func TestSourcePreservesLineCount(t *testing.T) {
	src := "local x = 1\nif x > 0 then\n  print(x)\nend\n"
	out, err := Source(src, "__hook", "test.lua")
	require.NoError(t, err)
	require.Equal(t, strings.Count(src, "\n"), strings.Count(out, "\n"))
}

func TestSourceHooksEveryTopLevelStatement(t *testing.T) {
	src := "local x = 1\nlocal y = 2\n"
	out, err := Source(src, "__hook", "test.lua")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Contains(t, lines[0], "__hook(1);")
	require.Contains(t, lines[1], "__hook(2);")
}

func TestSourceHooksInsideIfBranches(t *testing.T) {
	src := "if true then\n  local a = 1\nelse\n  local b = 2\nend\n"
	out, err := Source(src, "__hook", "test.lua")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Contains(t, lines[0], "__hook(1);") // if
	require.Contains(t, lines[1], "__hook(2);") // local a
	require.NotContains(t, lines[2], "__hook")  // else has no statement of its own
	require.Contains(t, lines[3], "__hook(4);") // local b
}

func TestSourceHooksFunctionBodiesIncludingAnonymous(t *testing.T) {
	src := "function f()\n  return 1\nend\n\nlocal g = function()\n  return 2\nend\n"
	out, err := Source(src, "__hook", "test.lua")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Contains(t, lines[0], "__hook(1);") // function f()
	require.Contains(t, lines[1], "__hook(2);") // return 1
	require.Contains(t, lines[4], "__hook(5);") // local g = function()
	require.Contains(t, lines[5], "__hook(6);") // return 2
}

func TestInstrumentedSourceStillRunsCorrectly(t *testing.T) {
	src := "sum = 0\nfor i = 1, 3 do\n  sum = sum + i\nend\n"
	out, err := Source(src, "__hook", "test.lua")
	require.NoError(t, err)

	L := lua.NewState()
	defer L.Close()

	var seen []int
	L.SetGlobal("__hook", L.NewFunction(func(L *lua.LState) int {
		seen = append(seen, L.CheckInt(1))
		return 0
	}))

	require.NoError(t, L.DoString(out))
	require.Equal(t, lua.LNumber(6), L.GetGlobal("sum"))
	require.NotEmpty(t, seen)
}

func TestSourceRejectsSyntaxError(t *testing.T) {
	_, err := Source("local x = \n", "__hook", "bad.lua")
	require.Error(t, err)
}
