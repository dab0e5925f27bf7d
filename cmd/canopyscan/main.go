// canopyscan runs the SICK TiM561 acquisition driver with an HTTP monitor
// surface. Downstream perception code normally embeds the driver directly;
// this binary exists for bench bring-up and field diagnostics.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/orchardeye/canopyscan/internal/config"
	"github.com/orchardeye/canopyscan/internal/eventlog"
	"github.com/orchardeye/canopyscan/internal/monitor"
	"github.com/orchardeye/canopyscan/internal/tim561"
	"github.com/orchardeye/canopyscan/internal/tim561/transport"
	"github.com/orchardeye/canopyscan/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to JSON config file (optional)")
	sensorAddr   = flag.String("sensor", "", "Sensor address host:port (overrides config)")
	listen       = flag.String("listen", "", "HTTP monitor listen address (overrides config)")
	eventLogPath = flag.String("events", "", "Path to the sqlite event log (overrides config)")
	logInterval  = flag.Int("log-interval", 60, "Statistics logging interval in seconds")
)

func main() {
	flag.Parse()
	log.Printf("canopyscan %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *sensorAddr != "" {
		cfg.SensorAddress = sensorAddr
	}
	if *listen != "" {
		cfg.ListenAddress = listen
	}
	if *eventLogPath != "" {
		cfg.EventLogPath = eventLogPath
	}

	events, err := eventlog.Open(cfg.GetEventLogPath())
	if err != nil {
		log.Fatalf("failed to open event log: %v", err)
	}
	defer events.Close()

	driver := tim561.NewDriver(tim561.DriverConfig{
		Transport: transport.Config{
			Address:        cfg.GetSensorAddress(),
			ConnectTimeout: cfg.GetConnectTimeout(),
			ReadTimeout:    cfg.GetReadTimeout(),
		},
		Filter: tim561.FilterConfig{
			MinDistanceMM: cfg.GetMinDistanceMM(),
			MaxDistanceMM: cfg.GetMaxDistanceMM(),
			MinAngleDeg:   cfg.GetMinAngleDeg(),
			MaxAngleDeg:   cfg.GetMaxAngleDeg(),
		},
		Decoder: tim561.DecoderConfig{
			VerifyChecksum:        cfg.GetVerifyChecksum(),
			AllowPollutionWarning: cfg.GetAllowPollutionWarning(),
		},
		Backoff: tim561.BackoffConfig{
			Initial:   cfg.GetBackoffInitial(),
			Max:       cfg.GetBackoffMax(),
			MaxOutage: cfg.GetMaxOutage(),
		},
		Events:           events,
		StatsLogInterval: time.Duration(*logInterval) * time.Second,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := driver.Start(ctx); err != nil {
		log.Fatalf("failed to start lidar driver: %v", err)
	}

	// run the monitor webserver alongside the driver
	wg.Add(1)
	go func() {
		defer wg.Done()
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: cfg.GetListenAddress(),
			Driver:  driver,
			Events:  events,
		})
		if err := ws.Start(ctx); err != nil {
			log.Printf("monitor webserver error: %v", err)
		}
	}()

	<-ctx.Done()
	driver.Stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
