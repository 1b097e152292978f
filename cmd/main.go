package main

import (
	"economy_service/internal/blobstore"
	"economy_service/internal/config"
	"economy_service/internal/economy"
	"economy_service/internal/httpapi"
	"economy_service/internal/logger"
	"economy_service/internal/mailbox"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalln(err)
	}

	store, err := blobstore.Open(cfg)
	if err != nil {
		logger.Log.Fatalln(err)
	}
	defer store.Close()

	rates, err := economy.LoadRates(cfg.RatesFile)
	if err != nil {
		logger.Log.Fatalln(err)
	}

	mailService := mailbox.NewService(store, mailbox.NewHub())
	economyRepo := economy.NewBlobRepository(store)
	economyService := economy.NewService(economyRepo, rates, mailService, economy.WithMaxAttempts(cfg.MutationAttempts))

	srv, err := httpapi.NewServer(economyService, mailService, cfg)
	if err != nil {
		logger.Log.Fatalln(err)
	}

	logger.Log.WithField("backend", cfg.StoreBackend).Infof("Server started on %s", cfg.HTTPAddr)
	if err := srv.Router().Run(cfg.HTTPAddr); err != nil {
		logger.Log.Fatal(err)
	}
}
