// Command archonctl is a small JSON-RPC client for archond: one flat
// main() dialing the daemon and printing whatever it replies with, with
// no subcommand framework.
package main

import (
	"flag"
	"fmt"
	"net/rpc/jsonrpc"
	"os"
	"time"

	"github.com/sdss/archond/orchestrator"
	"github.com/sdss/archond/rpcserver"
)

const (
	exitOK         = 0
	exitUsageError = 2
	exitDeviceError = 3
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: archonctl [-addr host:port] <command> [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status")
	fmt.Fprintln(os.Stderr, "  expose <seconds> [auto_read=true]")
	fmt.Fprintln(os.Stderr, "  abort <controller>")
	fmt.Fprintln(os.Stderr, "  readout <controller>")
	fmt.Fprintln(os.Stderr, "  flush <controller> <count>")
	fmt.Fprintln(os.Stderr, "  reset")
	fmt.Fprintln(os.Stderr, "  recover")
	os.Exit(exitUsageError)
}

func main() {
	addr := flag.String("addr", "localhost:6500", "archond RPC address")
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	conn, err := jsonrpc.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "archonctl: dial %s: %v\n", *addr, err)
		os.Exit(exitDeviceError)
	}
	defer conn.Close()

	switch cmd := args[0]; cmd {
	case "status":
		var reply []orchestrator.StatusSnapshot
		if err := conn.Call("ArchonControl.Status", &struct{}{}, &reply); err != nil {
			fail(err)
		}
		for _, s := range reply {
			fmt.Printf("%-12s %s\n", s.Controller, s.Status)
		}

	case "expose":
		if len(args) < 2 {
			usage()
		}
		var seconds float64
		if _, err := fmt.Sscanf(args[1], "%f", &seconds); err != nil {
			fmt.Fprintf(os.Stderr, "archonctl: bad exposure time %q\n", args[1])
			os.Exit(exitUsageError)
		}
		autoRead := true
		if len(args) > 2 {
			autoRead = args[2] == "true"
		}
		var reply orchestrator.ExposureResult
		rpcArgs := rpcserver.ExposeArgs{IntegrationSeconds: seconds, AutoRead: autoRead}
		if err := conn.Call("ArchonControl.Expose", &rpcArgs, &reply); err != nil {
			fail(err)
		}
		fmt.Printf("exposure %d wrote %d file(s):\n", reply.ExposureNo, len(reply.Filenames))
		for _, f := range reply.Filenames {
			fmt.Println(" ", f)
		}
		for controller, cerr := range reply.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", controller, cerr)
		}

	case "abort":
		if len(args) < 2 {
			usage()
		}
		var reply bool
		if err := conn.Call("ArchonControl.Abort", &rpcserver.ControllerArgs{Controller: args[1]}, &reply); err != nil {
			fail(err)
		}

	case "readout":
		if len(args) < 2 {
			usage()
		}
		var reply bool
		rpcArgs := rpcserver.ReadoutArgs{Controller: args[1], MaxWait: 60 * time.Second}
		if err := conn.Call("ArchonControl.Readout", &rpcArgs, &reply); err != nil {
			fail(err)
		}

	case "flush":
		if len(args) < 3 {
			usage()
		}
		var count int
		if _, err := fmt.Sscanf(args[2], "%d", &count); err != nil {
			fmt.Fprintf(os.Stderr, "archonctl: bad count %q\n", args[2])
			os.Exit(exitUsageError)
		}
		var reply bool
		rpcArgs := rpcserver.FlushArgs{Controller: args[1], Count: count, CycleTime: time.Second}
		if err := conn.Call("ArchonControl.Flush", &rpcArgs, &reply); err != nil {
			fail(err)
		}

	case "reset":
		var reply bool
		if err := conn.Call("ArchonControl.Reset", &struct{}{}, &reply); err != nil {
			fail(err)
		}

	case "recover":
		var reply []string
		if err := conn.Call("ArchonControl.Recover", &struct{}{}, &reply); err != nil {
			fail(err)
		}
		for _, f := range reply {
			fmt.Println(f)
		}

	default:
		fmt.Fprintf(os.Stderr, "archonctl: unknown command %q\n", cmd)
		usage()
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "archonctl:", err)
	os.Exit(exitDeviceError)
}
