// Command sqdbg is the CLI entry point for the embedded scripting-VM
// debugger of spec §3/§6: "serve" runs a Lua script with an Agent attached
// and a debug server listening, "attach" connects a terminal to one already
// running. Generalizes the teacher's hand-rolled flag-based cmd/dlv to
// cobra, following the rest of the example pack's CLI convention.
package main

import (
	"fmt"
	"os"
	"os/signal"

	lua "github.com/yuin/gopher-lua"
	"github.com/spf13/cobra"

	"github.com/golang/glog"
	"github.com/lweaver/sqdbg/client"
	"github.com/lweaver/sqdbg/internal/agent"
	"github.com/lweaver/sqdbg/server"
	"github.com/lweaver/sqdbg/terminal"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "sqdbg",
		Short:   "sqdbg is a remote debugger for embedded scripting-VM host processes",
		Version: version,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newAttachCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string
	var port int

	cmd := &cobra.Command{
		Use:   "serve <script.lua>",
		Short: "Run a Lua script with a debug agent attached, listening for clients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args[0], addr, port)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1", "listen address")
	cmd.Flags().IntVar(&port, "port", 9223, "listen port")
	return cmd
}

func newAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <addr>",
		Short: "Connect an interactive terminal to a running sqdbg server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(args[0])
		},
	}
	return cmd
}

func runServe(script, addr string, port int) error {
	vm := lua.NewState()
	defer vm.Close()

	a := agent.New()
	if err := a.AttachVm(vm); err != nil {
		return fmt.Errorf("attaching agent: %w", err)
	}

	s := server.New(server.Config{ListenAddr: addr, ListenPort: port}, a)
	serverErr := make(chan error, 1)
	go func() { serverErr <- s.ListenAndServe() }()

	glog.Infof("sqdbg: serving %s on %s:%d", script, addr, port)

	scriptErr := make(chan error, 1)
	go func() { scriptErr <- a.DoFile(script) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	select {
	case err := <-scriptErr:
		if err != nil {
			return fmt.Errorf("script error: %w", err)
		}
		glog.Info("sqdbg: script finished")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-sig:
		glog.Info("sqdbg: interrupted")
		return nil
	}
}

func runAttach(addr string) error {
	c := client.NewHTTPWebsocketClient(addr)
	if err := c.Open(); err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer c.Close()

	term := terminal.New(c)
	term.Run()
	return nil
}
