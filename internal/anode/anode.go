// Package anode runs the transmit side of the diode: one poll
// scheduler feeding three priority lanes, and one sender goroutine
// per serial link draining them. Records that fail to send are
// dropped, the link is one-way and nothing downstream can ask for
// them again.
package anode

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/devices"
	"github.com/scada-tools/datadiode/internal/lane"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/serlink"
	"github.com/scada-tools/datadiode/internal/wire"
)

var log = structlog.New()

type Config struct {
	Interval time.Duration
	Ports    [3]string
}

// Run drives the transmit side until ctx is cancelled. A serial port
// that fails to open disables its lane, the rest keep working.
func Run(ctx context.Context, m *devices.Manifest, cfg Config) {
	lanes := new(lane.Set)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		name := cfg.Ports[i]
		port, err := serlink.Open(name)
		if err != nil {
			pkg.Severe(log, "unable to open serial port: "+err.Error(), "port", name)
			continue
		}
		wg.Add(1)
		go func(l *lane.Lane) {
			defer wg.Done()
			defer serlink.Close(port, name)
			SendLoop(ctx, l, port, name)
		}(lanes.Lane(i + 1))
	}

	pollLoop(ctx, m, lanes, cfg.Interval)
	m.Close()
	wg.Wait()
}

// pollLoop gates on the clock without sleeping: poll durations are
// dominated by network I/O and the strict interval check avoids
// accumulating drift.
func pollLoop(ctx context.Context, m *devices.Manifest, lanes *lane.Set, interval time.Duration) {
	devs := m.Devices()
	var last time.Time
	for ctx.Err() == nil {
		now := time.Now()
		if now.Sub(last) < interval {
			continue
		}
		last = now
		pollAll(ctx, devs, lanes)
	}
}

func pollAll(ctx context.Context, devs []devices.Device, lanes *lane.Set) {
	for _, d := range devs {
		rec, ok := d.Poll(ctx)
		if !ok {
			continue
		}
		lanes.Lane(d.Priority()).Push(rec)
	}
}

// sendPause spaces frames out so the far side's UART keeps up.
const sendPause = 50 * time.Millisecond

// SendLoop drains one lane onto one link. A write failure costs the
// record and nothing else.
func SendLoop(ctx context.Context, l *lane.Lane, w io.Writer, name string) {
	for ctx.Err() == nil {
		if rec, ok := l.TryPop(); ok {
			if _, err := w.Write(wire.Marshal(rec)); err != nil {
				pkg.Severe(log, "serial link write failed, record dropped: "+err.Error(), "port", name)
			}
		}
		time.Sleep(sendPause)
	}
}
