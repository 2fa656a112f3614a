package main

import (
	"gtasksync/internal/config"
	"gtasksync/internal/logging"
	"gtasksync/internal/queue"
	"gtasksync/internal/reconcile"
	"gtasksync/internal/remote"
	"gtasksync/internal/saga"
	"gtasksync/internal/service"
	"gtasksync/internal/store"
	"gtasksync/internal/syncsvc"
	"gtasksync/internal/token"
)

// app holds every long-lived component a run needs, assembled once at
// startup the way the teacher's main wires its single connector rather
// than reaching for package-level globals.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *store.Store
	remote  *remote.Client
	tokens  *token.Provider
	worker  *queue.Worker
	sync    *syncsvc.Service
	service *service.Service
}

func newApp(verbose bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logging.NewStderr("gtasksyncd")
	log.SetVerbose(verbose)

	s, err := store.Open(cfg.StorePath, log)
	if err != nil {
		return nil, err
	}

	remoteClient := remote.New()
	if cfg.RemoteBaseURL != "" {
		remoteClient = remote.WithBaseURL(remoteClient, cfg.RemoteBaseURL)
	}

	tokenStore := token.NewStore()
	tokens := token.NewProvider(tokenStore, token.OAuthConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})

	mover := saga.New(s, remoteClient, log)
	worker := queue.New(s, remoteClient, mover, log)
	reconciler := reconcile.New(s, remoteClient, log, reconcile.WithSyncInterval(cfg.SyncInterval))
	sync := syncsvc.New(worker, reconciler, tokens, log)
	svc := service.New(s, remoteClient, tokens, sync)

	return &app{
		cfg: cfg, log: log, store: s, remote: remoteClient,
		tokens: tokens, worker: worker, sync: sync, service: svc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
