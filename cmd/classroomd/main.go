package main

import (
	"context"
	"log"

	"github.com/AhHanie/axion-demo/pkg/classroom"
	"github.com/AhHanie/axion-demo/pkg/service"
)

func main() {
	svc, err := service.New("classroom", "5113")
	if err != nil {
		log.Fatalf("Failed to initialize classroom service: %v", err)
	}

	pipeline, err := svc.Pipeline(nil)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	manager := classroom.NewManager(svc.Store, svc.Node, svc.Logger)
	svc.Node.Register(classroom.Module, manager)
	manager.RegisterRoutes(svc.Router, pipeline)

	if err := svc.Run(context.Background()); err != nil {
		log.Fatalf("classroom service exited: %v", err)
	}
}
