package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jorgemp1270/mrzorro-esp32/internal/backend"
	"github.com/jorgemp1270/mrzorro-esp32/internal/discovery"
)

func main() {
	address := flag.String("address", "0.0.0.0", "Address to listen on")
	port := flag.Int("port", 8000, "Port to listen on")
	mode := flag.String("mode", backend.ModeWAV, "Reply mode: wav answers the last chunk with audio, json with a filename")
	responseDir := flag.String("responses", "./responses", "Directory for synthesized replies")
	sampleRate := flag.Int("sample-rate", 16000, "Sample rate of the synthesized replies")
	delay := flag.Duration("delay", 0, "Simulated processing time before answering the last chunk")
	advertise := flag.Bool("advertise", true, "Announce the backend over mDNS")
	name := flag.String("name", "mrzorro-backend", "mDNS instance name")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	srv, err := backend.New(backend.Config{
		Address:         *address,
		Port:            *port,
		ResponseDir:     *responseDir,
		Mode:            *mode,
		SampleRate:      *sampleRate,
		ProcessingDelay: *delay,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create mock backend: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(); err != nil {
		logger.Error("Failed to start mock backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *advertise {
		if err := discovery.Advertise(ctx, *name, *port, logger); err != nil {
			logger.Warn("mDNS advertisement disabled", slog.String("error", err.Error()))
		}
	}

	logger.Info("Mock backend ready",
		slog.String("upload_url", fmt.Sprintf("http://localhost:%d/audio", *port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping mock backend", slog.String("error", err.Error()))
	}

	logger.Info("Mock backend stopped", slog.Int("chunks_received", len(srv.Records())))
}
