// Package rpcserver exposes the orchestrator over JSON-RPC, grounded on
// dastard's rpc_server.go SourceControl/RunRPCServer: a single
// registered struct served over net/rpc/jsonrpc, plus a periodic status
// broadcaster ticker.
package rpcserver

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/sdss/archond/archon"
	"github.com/sdss/archond/orchestrator"
)

// ArchonControl is the RPC-visible surface over the orchestrator,
// matching spec.md §4.7's method list: Expose, Abort, Readout, Fetch,
// Flush, WriteConfig, ReadConfig, Status, Reset, Recover, SendAllStatus.
type ArchonControl struct {
	orch *orchestrator.Orchestrator
}

// ExposeArgs is the RPC argument struct for Expose.
type ExposeArgs struct {
	IntegrationSeconds float64
	AutoRead           bool
	Extras             map[string]string
}

// Expose runs one fleet-wide exposure and returns its result.
func (a *ArchonControl) Expose(args *ExposeArgs, reply *orchestrator.ExposureResult) error {
	result, err := a.orch.Expose(args.IntegrationSeconds, args.AutoRead, args.Extras)
	if err != nil {
		return err
	}
	*reply = *result
	return nil
}

// ControllerArgs names the target controller for single-controller RPC
// methods.
type ControllerArgs struct {
	Controller string
}

// AbortArgs targets one controller for Abort.
type AbortArgs = ControllerArgs

// Abort aborts the named controller's in-flight exposure.
func (a *ArchonControl) Abort(args *ControllerArgs, reply *bool) error {
	h, ok := a.orch.Controller(args.Controller)
	if !ok {
		return fmt.Errorf("rpcserver: unknown controller %q", args.Controller)
	}
	if err := h.Engine.Abort(); err != nil {
		return err
	}
	*reply = true
	return nil
}

// ReadoutArgs targets a controller and bounds Readout's wait.
type ReadoutArgs struct {
	Controller string
	MaxWait    time.Duration
}

// Readout runs the named controller's readout step directly, for manual
// (non-auto-read) exposures.
func (a *ArchonControl) Readout(args *ReadoutArgs, reply *bool) error {
	h, ok := a.orch.Controller(args.Controller)
	if !ok {
		return fmt.Errorf("rpcserver: unknown controller %q", args.Controller)
	}
	if err := h.Engine.Readout(args.MaxWait); err != nil {
		return err
	}
	*reply = true
	return nil
}

// FetchArgs targets a controller and optionally pins a buffer index.
type FetchArgs struct {
	Controller  string
	BufferIndex int
	Timeout     time.Duration
}

// FetchReply reports the fetched buffer's descriptor; pixel data is not
// round-tripped over RPC (it flows to disk via the orchestrator's own
// Expose path), matching spec.md's separation of control-plane RPC from
// bulk data.
type FetchReply struct {
	Buffer archon.BufferDescriptor
}

// Fetch pulls the named controller's current fetch-ready buffer.
func (a *ArchonControl) Fetch(args *FetchArgs, reply *FetchReply) error {
	h, ok := a.orch.Controller(args.Controller)
	if !ok {
		return fmt.Errorf("rpcserver: unknown controller %q", args.Controller)
	}
	geom, err := archon.ComputeGeometry(h.Engine.ACF)
	if err != nil {
		return err
	}
	_, _, buf, err := h.Engine.Fetch(args.BufferIndex, geom, args.Timeout)
	if err != nil {
		return err
	}
	reply.Buffer = buf
	return nil
}

// FlushArgs targets a controller and the flush cycle count/interval.
type FlushArgs struct {
	Controller string
	Count      int
	CycleTime  time.Duration
}

// Flush runs the named controller's flush cycles.
func (a *ArchonControl) Flush(args *FlushArgs, reply *bool) error {
	h, ok := a.orch.Controller(args.Controller)
	if !ok {
		return fmt.Errorf("rpcserver: unknown controller %q", args.Controller)
	}
	if err := h.Engine.Flush(args.Count, args.CycleTime); err != nil {
		return err
	}
	*reply = true
	return nil
}

// WriteConfigArgs targets a controller and carries the ACF text plus any
// overrides and apply directives to issue.
type WriteConfigArgs struct {
	Controller string
	ACFText    string
	Overrides  map[string]string
	Apply      []string
	LineDelay  time.Duration
}

// WriteConfig loads a full ACF onto the named controller.
func (a *ArchonControl) WriteConfig(args *WriteConfigArgs, reply *bool) error {
	h, ok := a.orch.Controller(args.Controller)
	if !ok {
		return fmt.Errorf("rpcserver: unknown controller %q", args.Controller)
	}
	acf, err := archon.ParseACF(args.ACFText)
	if err != nil {
		return err
	}
	if err := h.Engine.WriteConfig(acf, args.Overrides, args.Apply, args.LineDelay); err != nil {
		return err
	}
	*reply = true
	return nil
}

// ReadConfig reads the named controller's live CONFIG section back as
// ACF text.
func (a *ArchonControl) ReadConfig(args *ControllerArgs, reply *string) error {
	h, ok := a.orch.Controller(args.Controller)
	if !ok {
		return fmt.Errorf("rpcserver: unknown controller %q", args.Controller)
	}
	text, err := h.Engine.ReadConfig()
	if err != nil {
		return err
	}
	*reply = text
	return nil
}

// Status reports every configured controller's current status.
func (a *ArchonControl) Status(_ *struct{}, reply *[]orchestrator.StatusSnapshot) error {
	*reply = a.orch.Status()
	return nil
}

// Reset aborts any in-flight exposure on every controller.
func (a *ArchonControl) Reset(_ *struct{}, reply *bool) error {
	a.orch.Reset()
	*reply = true
	return nil
}

// Recover rewrites any orphaned lockfiles to their final path.
func (a *ArchonControl) Recover(_ *struct{}, reply *[]string) error {
	recovered, err := a.orch.Recover()
	if err != nil {
		return err
	}
	*reply = recovered
	return nil
}

// SendAllStatus causes a broadcast of every controller's status to the
// status bus, matching dastard's SendAllStatus.
func (a *ArchonControl) SendAllStatus(_ *string, reply *bool) error {
	a.orch.SendAllStatus()
	*reply = true
	return nil
}

// Run registers an ArchonControl wrapping orch, starts the 2-second
// status broadcaster, and serves JSON-RPC connections on port until the
// listener fails. Matches RunRPCServer's accept loop exactly, one codec
// per connection.
func Run(orch *orchestrator.Orchestrator, port int) error {
	control := &ArchonControl{orch: orch}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			control.orch.SendAllStatus()
		}
	}()

	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return fmt.Errorf("rpcserver: register: %w", err)
	}
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("rpcserver: listen: %w", err)
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("rpcserver: accept: %w", err)
		}
		log.Printf("rpcserver: new connection from %s", conn.RemoteAddr())
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
