// Package app wires config, storage, the classifier, and the resilience
// pipeline together and runs the HTTP server.
package app

import (
	"log"

	"triagebot/internal/admission"
	"triagebot/internal/breaker"
	"triagebot/internal/config"
	"triagebot/internal/dispatch"
	"triagebot/internal/gateway"
	"triagebot/internal/httpx"
	"triagebot/internal/integrations/llm"
	slackbot "triagebot/internal/integrations/slack"
	"triagebot/internal/pipeline"
	"triagebot/internal/server"
	"triagebot/internal/storage/sqlite"
	"triagebot/internal/workflows"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s RatePerMinute=%d Burst=%.1f FailureThreshold=%d SuccessThreshold=%d RecoveryTimeout=%s ClassifyTimeout=%s MaxRetries=%d ConfidenceThreshold=%.2f FailFastWhenOpen=%t ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.RatePerMinute,
		cfg.BurstCapacity,
		cfg.FailureThreshold,
		cfg.SuccessThreshold,
		cfg.RecoveryTimeout(),
		cfg.ClassifyTimeout(),
		cfg.MaxRetries,
		cfg.ConfidenceThreshold,
		cfg.FailFastWhenOpen,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()
	auditStore := sqlite.NewAuditStore(db)

	gate := breaker.New(breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout(),
	})

	gw := gateway.New(llm.NewClassifier(cfg), gate, gateway.Config{
		Timeout:     cfg.ClassifyTimeout(),
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase(),
	})

	registry := dispatch.NewRegistry(
		workflows.NewInformational(),
		workflows.NewServiceAction(),
		workflows.NewSafetyCompliance(auditStore),
	)
	dispatcher := dispatch.New(registry, cfg.ConfidenceThreshold)

	adm := admission.NewController(admission.NewMemoryStore(cfg.BurstCapacity, cfg.RefillRatePerSecond()))

	var sink pipeline.TelemetrySink
	var notifier *slackbot.Notifier
	if cfg.SlackBotToken != "" && cfg.EscalationChannelID != "" {
		notifier = slackbot.NewNotifier(cfg.SlackBotToken, cfg.EscalationChannelID)
		sink = notifier
		gate.OnTransition = func(from, to breaker.Phase) {
			notifier.NotifyBreakerTransition(string(from), string(to))
		}
		log.Printf("Slack notifications enabled channel=%s", cfg.EscalationChannelID)
	}

	p := pipeline.New(adm, gw, dispatcher, sink, pipeline.Config{FailFastWhenOpen: cfg.FailFastWhenOpen})

	StartStatsSummaryScheduler(cfg, p, auditStore, notifier)

	srv := server.New(p, gate, cfg.MaxMessageLength)
	log.Println("Starting message triage service...")
	if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
