package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"local-language/infrastructure/rest"
	"local-language/infrastructure/ws"
	"local-language/internal"
	"local-language/repositories"
	"local-language/runtime"
	"local-language/runtime/workers"
	"local-language/services"
	"local-language/sink"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks on the terminal until the user
// quits or a signal arrives. Deferred closes run before main exits.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Local cache (BadgerDB) and search index (Bluge)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		log.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Chat API and push channel
	api, err := rest.NewClient(config.APIURL, config.AuthToken, config.APITimeout)
	if err != nil {
		return err
	}
	dialer := ws.NewDialer(config.ServerAddr, config.AuthToken)

	// 4. Supervision & Orchestration
	sup := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, sup, dialer, api, api, runtime.OrchestratorConfig{
		Session: runtime.SessionConfig{
			UserID:               config.UserID,
			HandshakeTimeout:     config.HandshakeTimeout,
			ReconnectBaseDelay:   config.ReconnectBaseDelay,
			ReconnectMaxDelay:    config.ReconnectMaxDelay,
			MaxReconnectAttempts: config.MaxReconnectAttempts,
			OutboundBuffer:       config.BufferSize,
		},
		Coordinator: runtime.CoordinatorConfig{
			HistoryLimit:  config.HistoryLimit,
			SendTimeout:   config.SendTimeout,
			FetchTimeout:  config.APITimeout,
			TypingIdle:    config.TypingIdle,
			TypingRefresh: config.TypingRefresh,
		},
		Translation: workers.TranslationConfig{
			Buffer:  config.BufferSize,
			Timeout: config.TranslationTimeout,
			Rate:    config.TranslationRate,
			Burst:   config.TranslationWorkers,
		},
		TranslationWorkers: config.TranslationWorkers,
		BufferSize:         config.BufferSize,
		SinkTimeout:        config.SinkTimeout,
		TypingTTL:          config.TypingTTL,
	})

	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	searchRepository := repositories.NewSearchRepository(blugeWriter, log)
	console := NewConsoleSink(os.Stdout, config.UserID)
	orchestrator.Add(
		sink.NewDiskSink(messageRepository, log),
		sink.NewSearchSink(searchRepository, log),
		console,
	)
	service := services.NewChatService(log, orchestrator, api, messageRepository, searchRepository)

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Start the Engine
	engineDone := make(chan struct{})
	go func() {
		_ = orchestrator.Start(ctx)
		close(engineDone)
	}()

	// A failed first attempt keeps retrying in the background.
	if err = service.Connect(ctx); err != nil {
		log.Warn("Chat server unreachable, retrying in background", "error", err)
	}

	// 7. Terminal until quit, EOF or signal
	NewTerminal(service, console, os.Stdin, os.Stdout).Run(ctx)

	// 8. Final Cleanup
	orchestrator.Stop()
	stop()
	<-engineDone
	log.Info("Program stopped cleanly")
	return nil
}
