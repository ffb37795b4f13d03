package timer

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/opsdesk/casebot/internal/chat"
)

// Handlers adapts the timer service to chat events: the start command, the
// panel buttons, and the two modal forms.
type Handlers struct {
	svc          *Service
	gateway      chat.Gateway
	tasksChannel string
}

// NewHandlers builds the chat handlers for the timer.
func NewHandlers(svc *Service, gateway chat.Gateway, tasksChannel string) *Handlers {
	return &Handlers{svc: svc, gateway: gateway, tasksChannel: tasksChannel}
}

// Register wires the handlers into the dispatcher. The component fallback
// recovers stale panel buttons: ids minted before a restart (or by an older
// build) resolve to the caller's active task instead of dying unrouted.
func (h *Handlers) Register(d *chat.Dispatcher) {
	d.Command("tarea", h.handleStartCommand)
	d.Component("timer:kind", h.handleKindSelect)
	d.Component("timer:pause:", h.handlePause)
	d.Component("timer:resume:", h.handleResume)
	d.Component("timer:finish:", h.handleFinishButton)
	d.Modal("timer:start_form", h.handleStartForm)
	d.Modal("timer:finish_form", h.handleFinishForm)
	d.ComponentFallback(h.handleFallback)
}

func (h *Handlers) handleStartCommand(ctx context.Context, ev chat.SlashCommand) error {
	if h.tasksChannel != "" && ev.ChannelID != h.tasksChannel {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Este comando solo funciona en el canal de tareas."))
	}
	if _, ok := h.svc.ActiveTask(ev.UserID); ok {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Ya tenés una tarea activa. Finalizala antes de empezar otra."))
	}

	options := make([]chat.SelectOption, 0, len(TaskKinds))
	for _, kind := range TaskKinds {
		options = append(options, chat.SelectOption{Label: kind, Value: kind})
	}
	return h.gateway.Respond(ctx, ev.InteractionID, chat.Message{
		Content:   "¿Qué tarea vas a empezar?",
		Select:    &chat.SelectMenu{CustomID: "timer:kind", Placeholder: "Tipo de tarea", Options: options},
		Ephemeral: true,
	})
}

func (h *Handlers) handleKindSelect(ctx context.Context, ev chat.ComponentClick) error {
	if len(ev.Values) == 0 {
		return h.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral("Elegí un tipo de tarea."))
	}
	kind := ev.Values[0]
	return h.gateway.OpenForm(ctx, ev.InteractionID, chat.Form{
		CustomID: "timer:start_form:" + kind,
		Title:    "Iniciar tarea",
		Inputs: []chat.FormInput{
			{Key: "observations", Label: "Observaciones", Placeholder: "Opcional", Paragraph: true},
		},
	})
}

func (h *Handlers) handleStartForm(ctx context.Context, ev chat.ModalSubmit) error {
	kind := strings.TrimPrefix(ev.CustomID, "timer:start_form:")
	t, err := h.svc.Start(ctx, ev.UserID, ev.DisplayName, kind, ev.Fields["observations"])
	if err != nil {
		return h.respondError(ctx, ev.InteractionID, err)
	}
	return h.gateway.Respond(ctx, ev.InteractionID,
		chat.Ephemeral("Tarea iniciada: "+t.TaskKind+" ("+t.TaskID+")"))
}

func (h *Handlers) handlePause(ctx context.Context, ev chat.ComponentClick) error {
	userID, taskID := parsePanelID(ev.CustomID, "timer:pause:")
	if userID != "" && userID != ev.UserID {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Esa tarea pertenece a otro agente."))
	}
	if _, err := h.svc.Pause(ctx, ev.UserID, taskID); err != nil {
		return h.respondError(ctx, ev.InteractionID, err)
	}
	return h.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral("Tarea pausada."))
}

func (h *Handlers) handleResume(ctx context.Context, ev chat.ComponentClick) error {
	userID, taskID := parsePanelID(ev.CustomID, "timer:resume:")
	if userID != "" && userID != ev.UserID {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Esa tarea pertenece a otro agente."))
	}
	if _, err := h.svc.Resume(ctx, ev.UserID, taskID); err != nil {
		return h.respondError(ctx, ev.InteractionID, err)
	}
	return h.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral("Tarea reanudada."))
}

func (h *Handlers) handleFinishButton(ctx context.Context, ev chat.ComponentClick) error {
	userID, taskID := parsePanelID(ev.CustomID, "timer:finish:")
	if userID != "" && userID != ev.UserID {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Esa tarea pertenece a otro agente."))
	}
	return h.gateway.OpenForm(ctx, ev.InteractionID, chat.Form{
		CustomID: "timer:finish_form:" + taskID,
		Title:    "Finalizar tarea",
		Inputs: []chat.FormInput{
			{Key: "cases", Label: "Casos cargados", Placeholder: "Cantidad de casos", Required: true},
		},
	})
}

func (h *Handlers) handleFinishForm(ctx context.Context, ev chat.ModalSubmit) error {
	taskID := strings.TrimPrefix(ev.CustomID, "timer:finish_form:")
	count, err := strconv.Atoi(strings.TrimSpace(ev.Fields["cases"]))
	if err != nil || count < 0 {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("La cantidad de casos tiene que ser un número."))
	}

	t, err := h.svc.Finish(ctx, ev.UserID, taskID, count)
	if err != nil {
		return h.respondError(ctx, ev.InteractionID, err)
	}
	return h.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral(
		"Tarea finalizada. Pausa acumulada: "+FormatDuration(t.AccumulatedPause)+"."))
}

// handleFallback serves clicks whose custom ids no longer route, typically
// panel buttons from before a restart. It recovers the caller's active task
// from the snapshot and applies the verb embedded in the id.
func (h *Handlers) handleFallback(ctx context.Context, ev chat.ComponentClick) error {
	if !strings.HasPrefix(ev.CustomID, "timer") {
		return nil
	}
	t, ok := h.svc.ActiveTask(ev.UserID)
	if !ok {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("No tenés ninguna tarea activa."))
	}

	switch {
	case strings.Contains(ev.CustomID, "pause"):
		if _, err := h.svc.Pause(ctx, ev.UserID, t.TaskID); err != nil {
			return h.respondError(ctx, ev.InteractionID, err)
		}
		return h.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral("Tarea pausada."))
	case strings.Contains(ev.CustomID, "resume"):
		if _, err := h.svc.Resume(ctx, ev.UserID, t.TaskID); err != nil {
			return h.respondError(ctx, ev.InteractionID, err)
		}
		return h.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral("Tarea reanudada."))
	case strings.Contains(ev.CustomID, "finish"):
		return h.gateway.OpenForm(ctx, ev.InteractionID, chat.Form{
			CustomID: "timer:finish_form:" + t.TaskID,
			Title:    "Finalizar tarea",
			Inputs: []chat.FormInput{
				{Key: "cases", Label: "Casos cargados", Placeholder: "Cantidad de casos", Required: true},
			},
		})
	}
	return nil
}

func (h *Handlers) respondError(ctx context.Context, interactionID string, err error) error {
	msg := "No se pudo completar la operación. Probá de nuevo en unos minutos."
	switch {
	case errors.Is(err, ErrActiveTask):
		msg = "Ya tenés una tarea activa. Finalizala antes de empezar otra."
	case errors.Is(err, ErrNoActiveTask):
		msg = "No tenés ninguna tarea activa."
	case errors.Is(err, ErrNotPaused):
		msg = "La tarea no está pausada."
	case errors.Is(err, ErrNotRunning):
		msg = "La tarea no está en curso."
	case errors.Is(err, ErrNotOwner):
		msg = "Esa tarea pertenece a otro agente."
	}
	return h.gateway.Respond(ctx, interactionID, chat.Ephemeral(msg))
}

func parsePanelID(customID, prefix string) (userID, taskID string) {
	rest := strings.TrimPrefix(customID, prefix)
	if i := strings.Index(rest, ":"); i >= 0 {
		return rest[:i], rest[i+1:]
	}
	return "", rest
}
