package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flowrunhq/flowrun"
	"github.com/flowrunhq/flowrun/analytics"
	"github.com/flowrunhq/flowrun/api"
	"github.com/flowrunhq/flowrun/engine"
	"github.com/flowrunhq/flowrun/scheduler"
	"github.com/flowrunhq/flowrun/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := newStore(ctx)
	registry := flowrun.NewRunnerRegistry()
	registerRunners(registry)

	engineConfig := flowrun.DefaultEngineConfig
	if cap := envInt("FLOWRUN_MAX_CONCURRENT"); cap > 0 {
		engineConfig.MaxConcurrentExecutions = cap
	}

	eng := engine.New(st, registry,
		engine.WithLogger(log.Logger),
		engine.WithConfig(engineConfig),
	)

	schedulerConfig := flowrun.DefaultSchedulerConfig
	if secs := envInt("FLOWRUN_TICK_SECONDS"); secs > 0 {
		schedulerConfig.TickInterval = time.Duration(secs) * time.Second
	}

	sched := scheduler.New(st, eng,
		scheduler.WithLogger(log.Logger),
		scheduler.WithConfig(schedulerConfig),
	)
	sched.Start(ctx)

	agg := analytics.New(st, eng.Capacity())

	app := fiber.New()
	server := api.NewServer(st, eng, sched, agg, log.Logger)
	server.RegisterRoutes(app)

	addr := os.Getenv("FLOWRUN_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Server listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	sched.Stop()
	_ = app.Shutdown()
}

// newStore picks DynamoDB when a table is configured, in-memory otherwise
func newStore(ctx context.Context) flowrun.Store {
	tableName := os.Getenv("FLOWRUN_DYNAMODB_TABLE")
	if tableName == "" {
		log.Info().Msg("Using in-memory store")
		return store.NewMemoryStore()
	}

	client, err := store.NewDynamoDBClient(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create DynamoDB client")
	}
	log.Info().Str("table", tableName).Msg("Using DynamoDB store")
	return store.NewDynamoDBStore(client, tableName)
}

// registerRunners wires the step kinds this deployment supports. Provider
// adapters register here; the echo runner stands in until they do.
func registerRunners(registry *flowrun.RunnerRegistry) {
	registry.RegisterFunc("echo", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		ctx.Logger.Info().Interface("config", config).Msg("Echo step")
		return json.Marshal(config)
	})
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatal().Str("key", key).Str("value", v).Msg("Invalid integer environment variable")
	}
	return n
}
