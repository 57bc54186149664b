package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dock108/aicli-gateway/config"
	"github.com/dock108/aicli-gateway/gateway"
	"github.com/dock108/aicli-gateway/log"
)

func main() {
	cfg := config.Get()

	gw, err := gateway.New(cfg, gateway.NewLoggingTransport())
	if err != nil {
		log.Fatal().Err(err).Msg("gateway: failed to initialize")
	}

	go func() {
		if err := gw.Start(); err != nil {
			log.Fatal().Err(err).Msg("gateway: server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("gateway: shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := gw.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gateway: shutdown error")
	}
}
