package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"local-language/internal/fakeserver"

	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
)

type Config struct {
	Addr     string `envconfig:"FAKESERVER_ADDR" default:"localhost:8000"`
	Token    string `envconfig:"FAKESERVER_TOKEN"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	// FAKESERVER_USERS seeds accounts as id:name:email:language, comma separated
	Users []string `envconfig:"FAKESERVER_USERS" default:"alice:Alice:alice@example.com:english,bob:Bob:bob@example.com:hindi"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	server := fakeserver.New(log, config.Token, nil)
	for _, seed := range config.Users {
		parts := strings.Split(seed, ":")
		if len(parts) != 4 {
			return fmt.Errorf("invalid user seed %q, expected id:name:email:language", seed)
		}
		server.AddUser(fakeserver.User{ID: parts[0], Name: parts[1], Email: parts[2], PreferredLanguage: parts[3]})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting fake chat server", "address", config.Addr, "users", len(config.Users))
		if err := server.Start(config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
