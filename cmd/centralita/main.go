package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mzaldivar/centralita/pkg/centralita"
	"github.com/mzaldivar/centralita/pkg/transports"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	dialTo := flag.String("dial_to", "", "destination number for outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for outbound call")
	dialURL := flag.String("dial_url", "", "override voice URL for outbound call")
	dialDigits := flag.String("dial_digits", "", "DTMF digits to send once the outbound call connects")
	drainTimeout := flag.Duration("drain_timeout", 15*time.Second, "maximum time to wait for in-flight calls on shutdown")
	flag.Parse()

	cfg, err := centralita.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "path", *configPath, "error", err)
		os.Exit(1)
	}

	eng, err := centralita.NewEngine(centralita.EngineOptions{Config: cfg})
	if err != nil {
		slog.Error("engine_build_failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine_start_failed", "error", err)
		os.Exit(1)
	}

	if *dialTo != "" && *dialFrom != "" {
		dialOutbound(ctx, eng.Transport(), *dialTo, *dialFrom, *dialURL, *dialDigits)
	}

	if err := eng.NewRunner(*drainTimeout).Run(ctx); err != nil {
		slog.Error("shutdown_incomplete", "error", err)
		os.Exit(1)
	}
}

func dialOutbound(ctx context.Context, transport transports.Transport, to, from, url, digits string) {
	if digits != "" {
		dialer, ok := transport.(transports.OutboundDialerWithOptions)
		if !ok {
			slog.Warn("transport_no_outbound_dialer")
			return
		}
		callSID, err := dialer.DialWithOptions(ctx, to, from, url, transports.DialOptions{SendDigits: digits})
		if err != nil {
			slog.Error("outbound_dial_failed", "error", err)
			return
		}
		slog.Info("outbound_dial_started", "call_sid", callSID)
		return
	}
	dialer, ok := transport.(transports.OutboundDialer)
	if !ok {
		slog.Warn("transport_no_outbound_dialer")
		return
	}
	callSID, err := dialer.Dial(ctx, to, from, url)
	if err != nil {
		slog.Error("outbound_dial_failed", "error", err)
		return
	}
	slog.Info("outbound_dial_started", "call_sid", callSID)
}
