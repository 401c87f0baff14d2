package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwehrli/carillon/internal/audio"
	"github.com/mwehrli/carillon/internal/config"
	"github.com/mwehrli/carillon/internal/server"
)

func main() {
	playSound := flag.String("play-sound", "", "play a sound file and exit (child mode)")
	device := flag.String("device", "", "audio output device name")
	loop := flag.Bool("loop", false, "loop the sound until killed")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	// Child mode: the same binary re-executed by the scheduler or the alert
	// controller. It opens the audio backend, plays, and exits; crashes here
	// never reach the server process.
	if *playSound != "" {
		os.Exit(audio.RunChild(*playSound, *device, *loop, logger))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	addr := cfg.Host + ":" + cfg.Port

	handler, shutdownHandler, err := server.NewHandler(cfg, logger)
	if err != nil {
		logger.Fatalf("server init error: %v", err)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("carillon listening on %s (config: %s, mp3: %s)", addr, cfg.ConfigDir, cfg.MP3Dir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	if err := shutdownHandler(ctx); err != nil {
		logger.Printf("service shutdown: %v", err)
	}
	logger.Printf("bye")
}
