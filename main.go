package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gochat/internal/adapter/llm"
	"github.com/xiaot623/gochat/internal/config"
	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/policy"
	"github.com/xiaot623/gochat/internal/repository"
	"github.com/xiaot623/gochat/internal/service"
	"github.com/xiaot623/gochat/internal/session"
	internalhttp "github.com/xiaot623/gochat/internal/transport/http"
	"github.com/xiaot623/gochat/internal/transport/rpc"
	"github.com/xiaot623/gochat/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting chat server...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("RPC Port: %d", cfg.RPCPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Ollama URL: %s (default model: %s)", cfg.OllamaURL, cfg.DefaultModel)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize inference client; the generation context enforces the ceiling.
	llmClient := llm.NewInferenceClient(cfg.Mode, cfg.OllamaURL, 0)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := llmClient.Ping(pingCtx); err != nil {
		log.Printf("WARN: Ollama is not reachable at %s: %v", cfg.OllamaURL, err)
	} else {
		log.Printf("Ollama is reachable")
	}
	cancelPing()

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize session registry and service
	registry := session.NewRegistry(db, cfg.RecentTurns, cfg.SessionIdleTimeout)
	svc := service.New(db, llmClient, registry, cfg, policyEngine)

	go svc.RunIdleEvictionMonitor(ctx)

	if cfg.ConfigFile != "" {
		go func() {
			err := config.WatchPresets(ctx, cfg.ConfigFile, func(presets map[string]domain.GenerationStyle) {
				svc.SetPresets(presets)
			})
			if err != nil {
				log.Printf("WARN: preset watcher stopped: %v", err)
			}
		}()
	}

	// Create HTTP + WebSocket server
	wsServer := ws.NewServer(cfg, svc)
	httpServer := internalhttp.NewServer(cfg, svc, wsServer)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	log.Printf("HTTP server started on port %d (WebSocket at /ws/:session_id)", cfg.HTTPPort)

	// Start internal RPC server
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(svc)
		if err != nil {
			log.Fatalf("Failed to initialize RPC server: %v", err)
		}
		go func() {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			if err := rpcServer.Start(addr); err != nil {
				log.Fatalf("Failed to start RPC server: %v", err)
			}
		}()
		log.Printf("RPC server started on port %d", cfg.RPCPort)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down chat server...")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to stop running generations: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown RPC server gracefully: %v", err)
		}
	}

	log.Println("Chat server stopped")
}
