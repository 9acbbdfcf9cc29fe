package main

import (
	"context"

	_ "github.com/jimmicro/version"
	"github.com/rs/zerolog/log"

	"github.com/xenops/xenopsd/internal/xenops/config"
	"github.com/xenops/xenopsd/internal/xenops/server"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	if err := srv.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}
