// Package terminal implements the interactive REPL collaborator of
// spec §6: a liner-based command loop driving one client.Interface,
// generalizing the teacher's Term/DebugCommands to the command surface
// SPEC_FULL §6 names (break, continue, step/next/stepout, locals, print,
// set).
package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/lweaver/sqdbg/api"
	"github.com/lweaver/sqdbg/client"
)

const historyFile = ".sqdbg_history"

// Term is the interactive REPL, owning the liner prompt, the client
// connection, and a small cache holding the status from the last
// StatusChanged event and the per-file breakpoint sets "break" resends.
// Commands that read or write stack variables always use frame 0.
type Term struct {
	client client.Interface
	prompt string
	line   *liner.State
	cache  *cache
}

type cache struct {
	status      api.Status
	breakpoints map[string][]api.CreateBreakpoint
	nextBpId    uint64
}

func newCache() *cache {
	return &cache{breakpoints: make(map[string][]api.CreateBreakpoint)}
}

// New returns a Term driving c, unstarted.
func New(c client.Interface) *Term {
	return &Term{
		prompt: "(sqdbg) ",
		line:   liner.NewLiner(),
		client: c,
		cache:  newCache(),
	}
}

func (t *Term) die(status int, args ...interface{}) {
	if t.line != nil {
		t.line.Close()
	}
	fmt.Fprint(os.Stderr, args...)
	fmt.Fprint(os.Stderr, "\n")
	os.Exit(status)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	return l, nil
}

// Run blocks driving the REPL until the user exits.
func (t *Term) Run() {
	defer t.line.Close()

	go t.handleEvents()

	cmds := DebugCommands()
	if f, err := os.Open(historyFile); err == nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				t.handleExit(0)
			}
			t.die(1, "Prompt for input failed.")
		}
		if len(cmdstr) == 0 {
			continue
		}

		name, args := parseCommand(cmdstr)
		if name == "exit" {
			t.handleExit(0)
		}

		cmd := cmds.Find(name)
		if err := cmd(t, args...); err != nil {
			fmt.Fprintf(os.Stderr, "command failed: %s\n", err)
		}
	}
}

// handleEvents drains StatusChanged/OutputLine events in the background,
// updating t.cache.status and printing VM output as it arrives.
func (t *Term) handleEvents() {
	for {
		event, err := t.client.NextEvent()
		if err != nil {
			fmt.Printf("event error: %s\n", err)
			return
		}

		switch event.Name {
		case api.StatusChangedEvent:
			t.cache.status = event.StatusChange.Status
			fmt.Printf("\n-- %s\n", event.StatusChange.Status.RunState)
		case api.OutputLineEvent:
			line := event.Output.Line
			if line.File != "" {
				fmt.Printf("%s:%d: %s\n", line.File, line.Line, line.Text)
			} else {
				fmt.Println(line.Text)
			}
		default:
			fmt.Printf("unsupported event %s\n", event.Name)
		}
	}
}

func (t *Term) handleExit(status int) {
	if f, err := os.OpenFile(historyFile, os.O_RDWR|os.O_CREATE, 0666); err == nil {
		if _, err := t.line.WriteHistory(f); err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}

	fmt.Println("Detaching...")
	t.die(status, "Hope I was of service hunting your bug!")
}

func parseCommand(cmdstr string) (string, []string) {
	vals := strings.Split(cmdstr, " ")
	return vals[0], vals[1:]
}
