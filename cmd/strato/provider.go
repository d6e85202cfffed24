package main

import (
	"fmt"
	"time"

	"log/slog"

	"strato/internal/batch"
	"strato/internal/cloud"
	"strato/internal/cloud/cloudfake"
	"strato/internal/config"
	"strato/internal/logging"
	"strato/internal/metrics"
	"strato/internal/notifications"
	"strato/internal/retrypolicy"
	"strato/internal/stager"
	"strato/internal/store"
	"strato/internal/volume"
)

// providerClients resolves the configured provider to API clients. Only the
// in-memory local provider ships with the repository; real providers plug in
// here.
func providerClients(cfg *config.Config) (cloud.Clients, error) {
	switch cfg.Provider.Name {
	case "local":
		return cloudfake.New().Clients(), nil
	default:
		return cloud.Clients{}, fmt.Errorf("provider %q has no client implementation", cfg.Provider.Name)
	}
}

// localStack bundles the managers a provider-facing CLI command needs.
type localStack struct {
	cfg     *config.Config
	store   *store.Store
	logger  *slog.Logger
	clients cloud.Clients
	volumes *volume.Manager
	stager  *stager.Stager
	batch   *batch.Manager
}

func newLocalStack(ctx *commandContext) (*localStack, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	clients, err := providerClients(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	notifier := notifications.NewService(cfg)
	clock := retrypolicy.RealClock{}

	volumeManager := volume.NewManager(cfg, st, clients.Volumes, clients.Compute, clock, logger, collector, notifier)
	payloadStager := stager.New(clients.Objects, cfg.Provider.Bucket,
		time.Duration(cfg.Stager.PresignTTLHours)*time.Hour, logger)

	return &localStack{
		cfg:     cfg,
		store:   st,
		logger:  logger,
		clients: clients,
		volumes: volumeManager,
		stager:  payloadStager,
		batch: batch.NewManager(cfg, st, clients.Batch, clients.Logs,
			payloadStager, volumeManager, clock, logger, collector, notifier),
	}, nil
}

func (s *localStack) Close() error {
	return s.store.Close()
}
