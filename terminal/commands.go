package terminal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lweaver/sqdbg/api"
)

// command is one REPL command: a name, its handler, and a one-line help
// string, generalizing the teacher's (unresolved in the retrieved copy)
// DebugCommands table to this spec's request surface.
type command struct {
	name string
	help string
	fn   func(t *Term, args ...string) error
}

// Commands is the REPL's dispatch table.
type Commands struct {
	cmds []command
}

// Find returns the handler for name, or a handler reporting "command not
// found" if name is unrecognized.
func (c *Commands) Find(name string) func(t *Term, args ...string) error {
	for _, cmd := range c.cmds {
		if cmd.name == name {
			return cmd.fn
		}
	}
	return func(t *Term, args ...string) error {
		return fmt.Errorf("command not found: %s", name)
	}
}

// DebugCommands returns the REPL's full command table: break, pause,
// continue, step/next/stepout, locals, globals, print, set, status, help.
func DebugCommands() *Commands {
	c := &Commands{}
	c.cmds = []command{
		{"help", "help: print this list", c.help},
		{"break", "break <file>:<line>: set a breakpoint", cmdBreak},
		{"pause", "pause: pause at the next executed line", cmdPause},
		{"continue", "continue: resume a paused VM", cmdContinue},
		{"step", "step: step into the next line", cmdStep},
		{"next", "next: step over the next line", cmdNext},
		{"stepout", "stepout: run until the current function returns", cmdStepOut},
		{"status", "status: report the current run state", cmdStatus},
		{"locals", "locals: list the current frame's locals", cmdLocals},
		{"globals", "globals: list global variables", cmdGlobals},
		{"print", "print <watch-expr>: evaluate a watch expression", cmdPrint},
		{"set", "set <path> <value>: write a stack variable", cmdSet},
	}
	return c
}

func (c *Commands) help(t *Term, args ...string) error {
	for _, cmd := range c.cmds {
		fmt.Println(cmd.help)
	}
	fmt.Println("exit: quit sqdbg")
	return nil
}

func cmdPause(t *Term, args ...string) error {
	code, err := t.client.Pause()
	return reportCode(code, err)
}

func cmdContinue(t *Term, args ...string) error {
	code, err := t.client.Continue()
	return reportCode(code, err)
}

func cmdStep(t *Term, args ...string) error {
	code, err := t.client.StepIn()
	return reportCode(code, err)
}

func cmdNext(t *Term, args ...string) error {
	code, err := t.client.StepOver()
	return reportCode(code, err)
}

func cmdStepOut(t *Term, args ...string) error {
	code, err := t.client.StepOut()
	return reportCode(code, err)
}

func cmdStatus(t *Term, args ...string) error {
	code, err := t.client.SendStatus()
	return reportCode(code, err)
}

// cmdBreak parses "file:line" and sends the accumulated breakpoint set for
// that file, since SetFileBreakpoints replaces rather than appends.
func cmdBreak(t *Term, args ...string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: break <file>:<line>")
	}
	file, lineStr, ok := strings.Cut(args[0], ":")
	if !ok {
		return fmt.Errorf("usage: break <file>:<line>")
	}
	line, err := strconv.ParseUint(lineStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid line %q: %w", lineStr, err)
	}

	t.cache.nextBpId++
	t.cache.breakpoints[file] = append(t.cache.breakpoints[file], api.CreateBreakpoint{
		Id:   t.cache.nextBpId,
		Line: uint32(line),
	})

	resolved, code, err := t.client.SetFileBreakpoints(file, t.cache.breakpoints[file])
	if err != nil {
		return err
	}
	if code != api.Success {
		return fmt.Errorf("%s", code)
	}
	for _, bp := range resolved {
		fmt.Printf("breakpoint %d set at %s:%d (verified=%v)\n", bp.Id, file, bp.Line, bp.Verified)
	}
	return nil
}

func cmdLocals(t *Term, args ...string) error {
	vars, code, err := t.client.GetStackVariables(0, "", api.PaginationInfo{Count: api.MaxPageCount})
	if err != nil {
		return err
	}
	if code != api.Success {
		return fmt.Errorf("%s", code)
	}
	printVariables(vars)
	return nil
}

func cmdGlobals(t *Term, args ...string) error {
	vars, code, err := t.client.GetGlobalVariables("", api.PaginationInfo{Count: api.MaxPageCount})
	if err != nil {
		return err
	}
	if code != api.Success {
		return fmt.Errorf("%s", code)
	}
	printVariables(vars)
	return nil
}

func cmdPrint(t *Term, args ...string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <watch-expr>")
	}
	expr := strings.Join(args, " ")
	value, code, err := t.client.GetImmediateValue(0, expr, api.PaginationInfo{Count: api.MaxPageCount})
	if err != nil {
		return err
	}
	if code != api.Success {
		return fmt.Errorf("%s", code)
	}
	fmt.Printf("%s = %s\n", expr, value.Variable.Value)
	return nil
}

func cmdSet(t *Term, args ...string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <path> <value>")
	}
	path := args[0]
	value := strings.Join(args[1:], " ")
	v, code, err := t.client.SetStackVariableValue(0, path, value)
	if err != nil {
		return err
	}
	if code != api.Success {
		return fmt.Errorf("%s", code)
	}
	fmt.Printf("%s = %s\n", path, v.Value)
	return nil
}

func printVariables(vars []api.Variable) {
	for _, v := range vars {
		fmt.Printf("%s = %s\n", v.PathUiString, v.Value)
	}
}

func reportCode(code api.ReturnCode, err error) error {
	if err != nil {
		return err
	}
	if code != api.Success {
		return fmt.Errorf("%s", code)
	}
	return nil
}
