package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling traffic counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // signaling sockets opened since process start
	ClosedConns atomic.Int64 // signaling sockets closed since process start
	BytesSent   atomic.Int64 // bytes written to signaling sockets
	BytesRecv   atomic.Int64 // bytes read from signaling sockets
	Units       atomic.Int64 // complete request/response units framed
	Queued      atomic.Int64 // outbound peer messages enqueued
	Delivered   atomic.Int64 // outbound peer messages handed to a socket
}

func (s *stats) AddConn()      { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddUnit()      { s.Units.Add(1) }
func (s *stats) AddQueued()    { s.Queued.Add(1) }
func (s *stats) AddDelivered() { s.Delivered.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 10 seconds when anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.delta(prev), reportInterval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	opened, closed, sent, recv, units, queued, delivered int64
}

func takeSnapshot() snapshot {
	return snapshot{
		opened:    Stats.TotalConns.Load(),
		closed:    Stats.ClosedConns.Load(),
		sent:      Stats.BytesSent.Load(),
		recv:      Stats.BytesRecv.Load(),
		units:     Stats.Units.Load(),
		queued:    Stats.Queued.Load(),
		delivered: Stats.Delivered.Load(),
	}
}

func (s snapshot) delta(prev snapshot) snapshot {
	return snapshot{
		opened:    s.opened - prev.opened,
		closed:    s.closed - prev.closed,
		sent:      s.sent - prev.sent,
		recv:      s.recv - prev.recv,
		units:     s.units - prev.units,
		queued:    s.queued - prev.queued,
		delivered: s.delivered - prev.delivered,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one reporting window for the logger.
func formatStats(d snapshot, window time.Duration) string {
	secs := window.Seconds()
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sock: %2d↑ %2d↓ | Units: %d | Msg: %d queued %d sent",
		formatBytes(float64(d.recv)/secs),
		formatBytes(float64(d.sent)/secs),
		d.opened,
		d.closed,
		d.units,
		d.queued,
		d.delivered,
	)
}
