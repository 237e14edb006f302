package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ensemble-labs/ensemble/internal/chat"
	"github.com/ensemble-labs/ensemble/internal/config"
	"github.com/ensemble-labs/ensemble/internal/embedding"
	"github.com/ensemble-labs/ensemble/internal/group"
	"github.com/ensemble-labs/ensemble/internal/httpapi"
	"github.com/ensemble-labs/ensemble/internal/memory"
	"github.com/ensemble-labs/ensemble/internal/observability"
	"github.com/ensemble-labs/ensemble/internal/persona"
	"github.com/ensemble-labs/ensemble/internal/relationship"
	"github.com/ensemble-labs/ensemble/internal/responder"
	"github.com/ensemble-labs/ensemble/internal/tone"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	perf := observability.NewRoundStageWindow(256)

	ctx := context.Background()

	var embedder embedding.Embedder
	embedderMode := strings.ToLower(strings.TrimSpace(cfg.EmbedderMode))
	switch embedderMode {
	case "http":
		if cfg.EmbedderBaseURL == "" {
			log.Fatalf("EMBEDDER_MODE=http but EMBEDDER_BASE_URL is not set")
		}
		embedder = embedding.NewHTTPEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel, cfg.MemoryEmbeddingDim)
		log.Printf("embedder: http (%s, model %s)", cfg.EmbedderBaseURL, cfg.EmbedderModel)
	case "mock":
		embedder = embedding.NewMockEmbedder(cfg.MemoryEmbeddingDim)
		log.Printf("embedder: mock")
	case "auto", "":
		if cfg.EmbedderBaseURL != "" {
			embedder = embedding.NewHTTPEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel, cfg.MemoryEmbeddingDim)
			log.Printf("embedder: http (%s, model %s)", cfg.EmbedderBaseURL, cfg.EmbedderModel)
		} else {
			embedder = embedding.NewMockEmbedder(cfg.MemoryEmbeddingDim)
			log.Printf("embedder: mock (no EMBEDDER_BASE_URL)")
		}
	default:
		log.Fatalf("invalid EMBEDDER_MODE: %q (expected auto|http|mock)", cfg.EmbedderMode)
	}

	index, err := memory.NewIndex(ctx, cfg.DatabaseURL, cfg.MemoryEmbeddingDim)
	if err != nil {
		log.Fatalf("memory index init failed: %v", err)
	}
	defer index.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("memory index: postgres (pgvector)")
	} else {
		log.Printf("memory index: embedded chromem")
	}

	relStore, err := relationship.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("relationship store init failed: %v", err)
	}
	defer relStore.Close()

	engine, err := relationship.NewEngine(relStore)
	if err != nil {
		log.Fatalf("relationship engine init failed: %v", err)
	}
	defer engine.Close()

	memories := memory.NewStore(index, embedder, engine, memory.Config{
		RetentionDays: cfg.MemoryRetentionDays,
		PerTypeCap:    cfg.MemoryPerTypeCap,
		RecencyFloor:  cfg.MemoryRecencyFloor,
		SearchK:       cfg.MemorySearchK,
	})

	registry := persona.NewRegistry()
	if cfg.PersonasFile != "" {
		if err := registry.LoadFile(cfg.PersonasFile); err != nil {
			log.Fatalf("personas file load failed: %v", err)
		}
		log.Printf("personas: %d loaded from %s", len(registry.IDs()), cfg.PersonasFile)
	} else {
		registerDemoPersonas(registry)
		log.Printf("personas: built-in demo cast (set PERSONAS_FILE to override)")
	}

	respond, err := responder.New(responder.Config{
		Mode:    cfg.ResponderMode,
		BaseURL: cfg.ResponderBaseURL,
		APIKey:  cfg.ResponderAPIKey,
		Model:   cfg.ResponderModel,
	})
	if err != nil {
		log.Fatalf("responder init failed: %v", err)
	}
	if _, ok := respond.(*responder.Mock); ok {
		log.Printf("responder: mock (set RESPONDER_API_KEY for openrouter)")
	} else {
		log.Printf("responder: openrouter")
	}

	tones := tone.NewHeuristic()
	chats := chat.NewService(registry, memories, engine, tones, respond, memory.NewHeuristicExtractor(),
		chat.WithStageObserver(perf.Observe))
	orch := group.New(registry, engine, tones, respond, group.Config{
		ResponseThreshold:      cfg.GroupResponseThreshold,
		AgreementThreshold:     cfg.GroupAgreementThreshold,
		InterruptionThreshold:  cfg.GroupInterruptionThreshold,
		AgreementPrimaryCap:    cfg.GroupAgreementCap,
		InterruptionPrimaryCap: cfg.GroupInterruptionCap,
		ContextTurns:           cfg.GroupContextTurns,
		SessionTTL:             cfg.GroupSessionTTL,
	})

	api := httpapi.New(cfg, orch, chats, memories, registry, metrics, perf)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	orch.StartJanitor(runCtx, cfg.GroupJanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// registerDemoPersonas seeds a small cast so the service is usable out of
// the box.
func registerDemoPersonas(r *persona.Registry) {
	r.Register(persona.Character{
		ID:            "sage",
		Name:          "Sage",
		Description:   "A calm mentor who has seen a lot and rarely rushes to judgment.",
		SpeakingStyle: "measured, reflective, fond of analogies",
		Traits:        persona.Traits{Dominance: 0.6, Agreeableness: 0.7, Openness: 0.8, Extraversion: 0.4, Humor: 0.4},
	})
	r.Register(persona.Character{
		ID:            "ember",
		Name:          "Ember",
		Description:   "An impulsive optimist who jumps into every plan head first.",
		SpeakingStyle: "quick, enthusiastic, lots of exclamations",
		Traits:        persona.Traits{Dominance: 0.7, Agreeableness: 0.5, Openness: 0.6, Extraversion: 0.9, Humor: 0.7},
	})
	r.Register(persona.Character{
		ID:            "wren",
		Name:          "Wren",
		Description:   "A dry-witted skeptic who warms up slowly but stays loyal.",
		SpeakingStyle: "short sentences, deadpan humor",
		Traits:        persona.Traits{Dominance: 0.4, Agreeableness: 0.4, Openness: 0.5, Extraversion: 0.3, Humor: 0.8},
	})
}
