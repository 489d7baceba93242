// Package cathode runs the receive side of the diode: one receiver
// goroutine per serial link reassembling records into the priority
// lanes, and a single dispatcher writing them to the database.
package cathode

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/db"
	"github.com/scada-tools/datadiode/internal/devices"
	"github.com/scada-tools/datadiode/internal/lane"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/serlink"
	"github.com/scada-tools/datadiode/internal/wire"
)

var log = structlog.New()

// Run drives the receive side until ctx is cancelled. Ports are
// closed on shutdown to unblock the readers.
func Run(ctx context.Context, m *devices.Manifest, w *db.Writer, ports [3]string) {
	lanes := new(lane.Set)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		name := ports[i]
		port, err := serlink.Open(name)
		if err != nil {
			pkg.Severe(log, "unable to open serial port: "+err.Error(), "port", name)
			continue
		}
		go func() {
			<-ctx.Done()
			serlink.Close(port, name)
		}()
		wg.Add(1)
		go func(l *lane.Lane) {
			defer wg.Done()
			ReceiveLoop(ctx, l, port, name)
		}(lanes.Lane(i + 1))
	}

	Dispatch(ctx, m, lanes, w)
	wg.Wait()
	w.Close()
}

// ReceiveLoop reassembles records from one link and pushes them on
// its lane. Corrupted stretches of the byte stream are skipped with a
// SEVERE note, the loop ends when the reader fails (shutdown closes
// the port to force exactly that).
func ReceiveLoop(ctx context.Context, l *lane.Lane, r io.Reader, name string) {
	dec := wire.NewDecoder(r)
	for {
		rec, skipped, err := dec.Next()
		if skipped > 0 {
			pkg.Severe(log, fmt.Sprintf("discarded %d bytes resynchronizing record stream", skipped), "port", name)
		}
		if err != nil {
			if ctx.Err() == nil {
				pkg.Severe(log, "serial link read failed: "+err.Error(), "port", name)
			}
			return
		}
		l.Push(rec)
	}
}

// Dispatch drains the lanes in priority order and routes each record
// to the device that produced it. A record whose device id resolves
// to nothing is dropped with a SEVERE note.
func Dispatch(ctx context.Context, m *devices.Manifest, lanes *lane.Set, w *db.Writer) {
	for ctx.Err() == nil {
		for p := 1; p <= 3; p++ {
			rec, ok := lanes.Lane(p).TryPop()
			if !ok {
				continue
			}
			d, ok := m.Lookup(rec)
			if !ok {
				pkg.Severe(log, fmt.Sprintf("record for unknown %s id %d dropped", rec.Device, rec.DeviceID))
				continue
			}
			d.UpdateDatabase(w, rec)
		}
	}
}
