package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/anode"
	"github.com/scada-tools/datadiode/internal/cathode"
	"github.com/scada-tools/datadiode/internal/db"
	"github.com/scada-tools/datadiode/internal/devices"
	"github.com/scada-tools/datadiode/internal/pkg"
	"github.com/scada-tools/datadiode/internal/pkg/must"
	"github.com/scada-tools/datadiode/internal/serlink"
	"github.com/scada-tools/datadiode/internal/settings"
)

var log = structlog.New()

func main() {
	pkg.InitLog()

	configFile := flag.String("config", "config.txt", "device manifest file")
	dbPassword := flag.String("db-password", "", "database password, held in memory only")
	flag.Parse()

	stg, err := settings.Load()
	must.PanicIf(err)

	ctx, interrupt := context.WithCancel(context.Background())
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-done
		log.Debug("system signal: " + sig.String())
		interrupt()
	}()

	m, err := devices.LoadManifest(*configFile, devices.DialTCP)
	must.PanicIf(err)

	switch strings.ToLower(m.Function) {
	case "transmit", "send":
		anode.Run(ctx, m, anode.Config{
			Interval: time.Duration(stg.GatherInterval) * time.Millisecond,
			Ports:    serlink.DefaultPorts,
		})
	case "receive":
		cathode.Run(ctx, m, db.NewWriter(stg.DBURL, stg.DBUsername, *dbPassword), serlink.DefaultPorts)
	default:
		log.PrintErr("`manifest names no usable Function`", "function", m.Function)
		os.Exit(1)
	}

	log.Debug("all canceled and closed")
}
