package main

import (
	"context"
	"log"

	"github.com/AhHanie/axion-demo/pkg/service"
	"github.com/AhHanie/axion-demo/pkg/student"
)

func main() {
	svc, err := service.New("student", "5112")
	if err != nil {
		log.Fatalf("Failed to initialize student service: %v", err)
	}

	pipeline, err := svc.Pipeline(nil)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	manager := student.NewManager(svc.Store, svc.Node, svc.Logger)
	svc.Node.Register(student.Module, manager)
	manager.RegisterRoutes(svc.Router, pipeline)

	if err := svc.Run(context.Background()); err != nil {
		log.Fatalf("student service exited: %v", err)
	}
}
