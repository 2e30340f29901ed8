package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dm_chat/internal/config"
	"dm_chat/internal/model"
	"dm_chat/internal/service/app"
	"dm_chat/internal/service/identity"
	"dm_chat/internal/utils/log"

	"go.uber.org/zap"
)

func main() {
	// os.Args[0] is the program name, os.Args[1:] are arguments
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: go run main.go <username>")
		os.Exit(2)
	}

	username := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	// the terminal belongs to the UI
	if err := log.Init(cfg.Log.Level, fmt.Sprintf("client-%s.log", username)); err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Stand-in for the identity provider: mint a token for username with the shared key.
	token, err := identity.NewTokenVerifier([]byte(cfg.Identity.SigningKey)).
		Issue(username, model.Profile{DisplayName: username}, 12*time.Hour)
	if err != nil {
		log.Fatal("issue token failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.NewApp(cfg.Server.Addr, token)
	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	a.Run(ctx, username)
}
