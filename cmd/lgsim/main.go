package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OldStager01/vm-scaling/internal/logger"
	"github.com/OldStager01/vm-scaling/internal/simulator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.Int("port", 8080, "listen port")
	duration := flag.Duration("duration", 5*time.Minute, "session duration")
	workerRPS := flag.Float64("worker-rps", 30, "rate a single worker sustains")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Setup(*logLevel, "development")

	sim := simulator.New(simulator.Config{
		Port: *port,
		Session: simulator.SessionConfig{
			Duration:  *duration,
			WorkerRPS: *workerRPS,
		},
	})
	if err := sim.Start(); err != nil {
		return err
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdownChan
	logger.Infof("Received signal %v, shutting down", sig)

	if err := sim.Stop(); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("Simulator stopped gracefully")
	return nil
}
