// Command timesyncd is the GPS/SNTP clock discipline appliance: it
// disciplines a local clock from a GPS receiver's NMEA+PPS output and a
// remote SNTP server, and re-serves time to the LAN as a stratum 1/2
// SNTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgeflow/timesyncd/internal/clock"
	"github.com/edgeflow/timesyncd/internal/config"
	"github.com/edgeflow/timesyncd/internal/discipline"
	"github.com/edgeflow/timesyncd/internal/glue"
	"github.com/edgeflow/timesyncd/internal/hal"
	"github.com/edgeflow/timesyncd/internal/logger"
	"github.com/edgeflow/timesyncd/internal/nmea"
	"github.com/edgeflow/timesyncd/internal/sntpclient"
	"github.com/edgeflow/timesyncd/internal/sntpserver"
	"github.com/edgeflow/timesyncd/internal/statusapi"

	"github.com/gofiber/fiber/v2"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "timesyncd: config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		LogDir:     cfg.Logger.LogDir,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "timesyncd: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log.Info("timesyncd starting", zap.String("version", Version))

	initHAL(log)
	h, err := hal.GetGlobalHAL()
	if err != nil {
		log.Fatal("hal not initialized", zap.Error(err))
	}

	clk := clock.NewSystem()
	disc := discipline.New(clk)
	parser := nmea.NewParser(clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.Serial().Open(cfg.GPS.SerialPort); err != nil {
		log.Warn("failed to open GPS serial port, GPS discipline disabled", zap.Error(err))
	} else {
		if err := h.Serial().SetBaudRate(cfg.GPS.BaudRate); err != nil {
			log.Warn("failed to set GPS baud rate", zap.Error(err))
		}
		go drainSerial(ctx, h, parser, log)
	}

	ppsHandler := glue.NewPPSHandler(clk, parser, disc).
		WithStalenessLimit(clock.Micros(cfg.GPS.FixStalenessMicros))
	edge := hal.EdgeRising
	if !cfg.GPS.PPSRisingEdge {
		edge = hal.EdgeFalling
	}
	if err := h.GPIO().WatchEdge(cfg.GPS.PPSPin, edge, func(int) {
		ppsHandler.OnEdge()
	}); err != nil {
		log.Warn("failed to watch PPS pin, GPS discipline disabled", zap.Error(err))
	}

	metrics := statusapi.NewMetrics()
	client := sntpclient.New(sntpclient.Config{
		ServerHost:   cfg.SNTPClient.ServerHost,
		PollInterval: time.Duration(cfg.SNTPClient.PollIntervalSec) * time.Second,
		UDPTimeout:   time.Duration(cfg.SNTPClient.UDPTimeoutSec) * time.Second,
		MinVersion:   uint8(cfg.SNTPClient.MinVersion),
	}, clk, disc, sntpclient.NetResolver{}, log)

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc("@every 1s", client.Tick); err != nil {
		log.Fatal("failed to schedule sntp client tick", zap.Error(err))
	}
	if _, err := c.AddFunc("@every 1m", func() {
		log.Info("status",
			zap.Uint8("stratum", disc.Stratum()),
			zap.Uint32("reference_id", disc.ReferenceID()),
			zap.Int64("utc_micros", disc.UTCMicros()))
	}); err != nil {
		log.Fatal("failed to schedule status log", zap.Error(err))
	}
	c.Start()
	defer c.Stop()

	if cfg.SNTPServer.Enabled {
		server := sntpserver.New(disc, log)
		go func() {
			if err := server.ListenAndServe(ctx, "udp4", cfg.SNTPServer.ListenPort); err != nil {
				log.Error("sntp server stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Status.Enabled {
		app := fiber.New(fiber.Config{AppName: "timesyncd v" + Version})
		api := statusapi.New(disc, parser, client, clk, metrics)
		api.Register(app)
		go func() {
			if err := app.Listen(cfg.Status.Listen); err != nil {
				log.Error("status api stopped", zap.Error(err))
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("timesyncd shutting down")
}

// drainSerial implements the cooperative-loop GPS UART drain of
// spec.md §5: feed every received byte to the parser, discarding
// non-NMEA bytes per spec.md §6.
func drainSerial(ctx context.Context, h hal.HAL, parser *nmea.Parser, log *zap.Logger) {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := h.Serial().Read(buf)
		if err != nil {
			log.Warn("gps serial read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for i := 0; i < n; i++ {
			parser.Feed(buf[i])
		}
	}
}
