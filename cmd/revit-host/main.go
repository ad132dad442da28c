package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/draftforge/revit-design-orchestrator/internal/revithost"
)

// Standalone tool host for local development. The production host runs
// inside Revit; this binary exposes the same RPC surface against an
// in-memory document so the orchestrator can run end to end.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(`{"level":"info","message":"No .env file found, using environment"}`)
	}

	addr := os.Getenv("REVIT_HOST_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8765"
	}

	host := revithost.NewHost(addr)
	if _, err := host.Start(); err != nil {
		log.Fatalf("Failed to start tool host: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down tool host...")
	if _, err := host.Stop(); err != nil {
		log.Fatalf("Tool host forced to stop: %v", err)
	}
	log.Println("Tool host exited")
}
