// Package telemetry is the exposure archive port's default implementation:
// an async-insert ClickHouse writer, grounded on internal/dastarddb's
// DastardDBConnection connect/handleConnection/AsyncInsert pattern. Where
// dastard logs one activity row per daemon run plus per-datarun and
// per-sensor rows, this logs one row per completed exposure.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"github.com/sdss/archond/ports"
)

const databaseName = "archond"

// Archive is a ports.ExposureArchive backed by ClickHouse, matching the
// teacher's one-goroutine-drains-one-channel connection model so inserts
// never block the orchestrator on network latency.
type Archive struct {
	conn    clickhouse.Conn
	err     error
	entries chan ports.ExposureSummary
	sync.WaitGroup
}

// IsConnected reports whether the archive has a live, error-free
// connection, matching DastardDBConnection.IsConnected.
func (a *Archive) IsConnected() bool {
	return a != nil && a.conn != nil && a.err == nil
}

// Open connects to the ClickHouse server named by addr (host:port) using
// credentials from the ARCHOND_DB_USER / ARCHOND_DB_PASSWORD environment
// variables, and starts the background insert loop. abort stops the loop
// and closes the connection.
func Open(addr string, abort <-chan struct{}) *Archive {
	a := &Archive{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("ARCHOND_DB_USER"),
		Password: os.Getenv("ARCHOND_DB_PASSWORD"),
	}
	opt := clickhouse.Options{
		Addr: []string{addr},
		Auth: auth,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "archond", Version: "unknown"}},
		},
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		a.err = err
		return a
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("telemetry: clickhouse exception [%d] %s\n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		a.err = err
		return a
	}

	a.conn = conn
	a.entries = make(chan ports.ExposureSummary, 16)
	a.Add(1)
	go a.run(abort)
	return a
}

func (a *Archive) run(abort <-chan struct{}) {
	defer a.Done()
	for {
		select {
		case <-abort:
			a.conn.Close()
			return
		case summary := <-a.entries:
			a.insert(summary)
		}
	}
}

func (a *Archive) insert(s ports.ExposureSummary) {
	ctx := context.Background()
	const nowait = false
	id := ulid.Make().String()
	if err := a.conn.AsyncInsert(ctx,
		`INSERT INTO exposures VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		id, s.Controller, s.Detector, s.ExposureNo, s.Filename,
		s.IntegrationS,
		s.Start.Format("2006-01-02 15:04:05.000000"),
		s.End.Format("2006-01-02 15:04:05.000000"),
		s.Success, s.ErrorMessage,
	); err != nil {
		fmt.Println("telemetry: AsyncInsert into exposures failed:", err)
	}
}

// RecordExposure implements ports.ExposureArchive. A summary for a
// disconnected or never-connected archive is silently dropped, matching
// dastard's "no-op when not connected" convention.
func (a *Archive) RecordExposure(summary ports.ExposureSummary) {
	if !a.IsConnected() {
		return
	}
	select {
	case a.entries <- summary:
	default:
		fmt.Println("telemetry: dropped exposure record, insert queue full")
	}
}

// Wait blocks until the background insert loop has exited after abort
// fires.
func (a *Archive) Wait() {
	a.WaitGroup.Wait()
}

// Ping verifies connectivity to addr without keeping the connection open,
// mirroring dastarddb.PingServer.
func Ping(addr string) error {
	a := Open(addr, make(chan struct{}))
	if !a.IsConnected() {
		return fmt.Errorf("telemetry: database is not connected: %w", a.err)
	}
	v, err := a.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("telemetry: clickhouse server is alive, version %s\n", v)
	return a.conn.Close()
}
