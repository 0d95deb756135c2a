package main

import (
	"context"
	"log"

	"github.com/AhHanie/axion-demo/pkg/school"
	"github.com/AhHanie/axion-demo/pkg/service"
)

func main() {
	svc, err := service.New("school", "5114")
	if err != nil {
		log.Fatalf("Failed to initialize school service: %v", err)
	}

	pipeline, err := svc.Pipeline(nil)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	manager := school.NewManager(svc.Store, svc.Node, svc.Logger)
	svc.Node.Register(school.Module, manager)
	manager.RegisterRoutes(svc.Router, pipeline)

	if err := svc.Run(context.Background()); err != nil {
		log.Fatalf("school service exited: %v", err)
	}
}
