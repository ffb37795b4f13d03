package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/permits"
	"github.com/opsdesk/casebot/internal/pkg/logger"
)

// OpsHandlers exposes the operational chat commands. Every one of them is
// gated: these are back-office tools, not agent-facing flows.
type OpsHandlers struct {
	gateway      chat.Gateway
	gate         *permits.Gate
	surveillance SurveillanceRunner
	sweeper      ConversationSweeper
	ttl          time.Duration
	timers       TimerLister
	startTime    time.Time
}

// NewOpsHandlers builds the ops command handlers.
func NewOpsHandlers(gateway chat.Gateway, gate *permits.Gate, surveillance SurveillanceRunner,
	sweeper ConversationSweeper, ttl time.Duration, timers TimerLister) *OpsHandlers {
	return &OpsHandlers{
		gateway:      gateway,
		gate:         gate,
		surveillance: surveillance,
		sweeper:      sweeper,
		ttl:          ttl,
		timers:       timers,
		startTime:    time.Now(),
	}
}

// Register wires the ops commands into the dispatcher.
func (h *OpsHandlers) Register(d *chat.Dispatcher) {
	d.Command("verify-errors", h.gated(h.handleVerifyErrors))
	d.Command("status", h.gated(h.handleStatus))
	d.Command("debug", h.gated(h.handleDebug))
	d.Command("sweep", h.gated(h.handleSweep))
	d.Command("logging", h.gated(h.handleLogging))
}

func (h *OpsHandlers) gated(next chat.CommandHandler) chat.CommandHandler {
	return func(ctx context.Context, ev chat.SlashCommand) error {
		if !h.gate.Allow(ev.Member) {
			return h.gateway.Respond(ctx, ev.InteractionID,
				chat.Ephemeral("No tenés permisos para usar este comando."))
		}
		return next(ctx, ev)
	}
}

// handleVerifyErrors forces one surveillance pass now.
func (h *OpsHandlers) handleVerifyErrors(ctx context.Context, ev chat.SlashCommand) error {
	if err := h.gateway.Defer(ctx, ev.InteractionID, true); err != nil {
		return fmt.Errorf("deferring verify-errors: %w", err)
	}
	n, err := h.surveillance.RunOnce(ctx)
	if err != nil {
		logger.Error("ops: forced surveillance pass failed", "error", err)
		return h.gateway.FollowUp(ctx, ev.InteractionID,
			chat.Ephemeral("❌ La verificación falló. Revisá los logs."))
	}
	return h.gateway.FollowUp(ctx, ev.InteractionID,
		chat.Ephemeral(fmt.Sprintf("Verificación completada: %d alertas enviadas.", n)))
}

func (h *OpsHandlers) handleStatus(ctx context.Context, ev chat.SlashCommand) error {
	return h.gateway.Respond(ctx, ev.InteractionID, chat.Message{
		Embeds: []chat.Embed{{
			Title: "Estado del bot",
			Color: chat.ColorInfo,
			Fields: []chat.EmbedField{
				{Name: "Uptime", Value: time.Since(h.startTime).Round(time.Second).String(), Inline: true},
				{Name: "Nivel de log", Value: logger.CurrentLevel(), Inline: true},
				{Name: "Tareas activas", Value: fmt.Sprint(len(h.timers.AllActive())), Inline: true},
			},
		}},
		Ephemeral: true,
	})
}

func (h *OpsHandlers) handleDebug(ctx context.Context, ev chat.SlashCommand) error {
	tasks := h.timers.AllActive()
	var b strings.Builder
	fmt.Fprintf(&b, "TTL de conversaciones: %s\n", h.ttl)
	fmt.Fprintf(&b, "Tareas activas: %d\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "• %s (%s): %s\n", t.DisplayName, t.TaskKind, t.Status)
	}
	return h.gateway.Respond(ctx, ev.InteractionID,
		chat.Ephemeral(strings.TrimRight(b.String(), "\n")))
}

func (h *OpsHandlers) handleSweep(ctx context.Context, ev chat.SlashCommand) error {
	n, err := h.sweeper.SweepExpired(ctx, h.ttl)
	if err != nil {
		logger.Error("ops: sweep failed", "error", err)
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("❌ No se pudo ejecutar la limpieza."))
	}
	return h.gateway.Respond(ctx, ev.InteractionID,
		chat.Ephemeral(fmt.Sprintf("Limpieza completada: %d conversaciones vencidas.", n)))
}

// handleLogging flips the log level: "logging level:debug".
func (h *OpsHandlers) handleLogging(ctx context.Context, ev chat.SlashCommand) error {
	level := strings.TrimSpace(ev.Args["level"])
	if level == "" {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Nivel actual: "+logger.CurrentLevel()))
	}
	logger.SetLevel(logger.ParseLevel(level))
	logger.Info("ops: log level changed", "level", logger.CurrentLevel(), "by", ev.UserID)
	return h.gateway.Respond(ctx, ev.InteractionID,
		chat.Ephemeral("Nivel de log: "+logger.CurrentLevel()))
}
