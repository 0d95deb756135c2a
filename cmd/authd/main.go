package main

import (
	"context"
	"log"

	"github.com/AhHanie/axion-demo/pkg/auth"
	"github.com/AhHanie/axion-demo/pkg/service"
	"github.com/AhHanie/axion-demo/pkg/token"
)

func main() {
	svc, err := service.New("auth", "5111")
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}

	cfg := svc.Config
	tokens := token.NewManager(
		cfg.Token.LongSecret,
		cfg.Token.ShortSecret,
		cfg.Token.LongTokenTTL,
		cfg.Token.ShortTokenTTL,
	)

	// The auth service verifies short tokens in-process; everyone else asks
	// it over the bus.
	pipeline, err := svc.Pipeline(tokens)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	manager := auth.NewManager(svc.Store, tokens, svc.Logger)
	svc.Node.Register(auth.Module, manager)
	manager.RegisterRoutes(svc.Router, pipeline)

	if err := svc.Run(context.Background()); err != nil {
		log.Fatalf("auth service exited: %v", err)
	}
}
