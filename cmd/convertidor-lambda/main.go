package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/loqalabs/convertidor/internal/config"
	"github.com/loqalabs/convertidor/internal/eventstore"
	"github.com/loqalabs/convertidor/internal/protocol"
	"github.com/loqalabs/convertidor/internal/runtime"
	"github.com/loqalabs/convertidor/internal/skill"
)

type handler struct {
	skill *skill.Skill
}

func (h *handler) Handle(ctx context.Context, env protocol.RequestEnvelope) (protocol.ResponseEnvelope, error) {
	return h.skill.Invoke(ctx, env)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Lambda has no durable disk, so audit events are kept only when a path
	// is configured explicitly.
	cfg, err := config.Load(os.Getenv("CONVERTIDOR_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if os.Getenv("CONVERTIDOR_EVENT_STORE_PATH") == "" {
		cfg.EventStore.RetentionMode = "ephemeral"
	}

	store, err := eventstore.Open(context.Background(), cfg.EventStore, logger.With(slog.String("component", "eventstore")))
	if err != nil {
		logger.Error("failed to open event store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	components, err := runtime.BuildSkill(cfg, store, logger)
	if err != nil {
		logger.Error("failed to build skill", slog.String("error", err.Error()))
		os.Exit(1)
	}

	h := &handler{skill: components.Skill}
	lambda.Start(h.Handle)
}
