// Package flow drives the chat intake state machines: command → optional
// subtype menu → form → persist → optional await-attachments. Each flow is
// bound to one channel; invocations elsewhere are refused without creating
// state. Stale dialogs are swept before every inbound event.
package flow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opsdesk/casebot/internal/cases"
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/convstore"
	"github.com/opsdesk/casebot/internal/permits"
	"github.com/opsdesk/casebot/internal/pkg/logger"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Engine owns every intake flow and the buscar-caso search command.
type Engine struct {
	repo     *cases.Repository
	conv     convstore.Store
	gateway  chat.Gateway
	gate     *permits.Gate
	channels config.ChannelsConfig
	ttl      time.Duration
	defs     map[cases.Kind]definition
}

// NewEngine builds the flow engine.
func NewEngine(repo *cases.Repository, conv convstore.Store, gateway chat.Gateway,
	gate *permits.Gate, channels config.ChannelsConfig, ttl time.Duration) *Engine {
	defs := make(map[cases.Kind]definition, len(definitions))
	for _, d := range definitions {
		defs[d.kind] = d
	}
	return &Engine{
		repo:     repo,
		conv:     conv,
		gateway:  gateway,
		gate:     gate,
		channels: channels,
		ttl:      ttl,
		defs:     defs,
	}
}

// Register wires every flow command plus the shared component and modal
// routes into the dispatcher.
func (e *Engine) Register(d *chat.Dispatcher) {
	for _, def := range definitions {
		def := def
		d.Command(def.command, func(ctx context.Context, ev chat.SlashCommand) error {
			return e.handleCommand(ctx, def, ev)
		})
	}
	d.Command("buscar-caso", e.handleSearch)
	d.Component("flow:", e.handleSubtype)
	d.Modal("flow:", e.handleForm)
}

func (e *Engine) sweep(ctx context.Context) {
	if n, err := e.conv.SweepExpired(ctx, e.ttl); err != nil {
		logger.Warn("flow: sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug("flow: swept stale dialogs", "count", n)
	}
}

// guard checks the channel and category binding of a flow invocation.
func (e *Engine) guard(def definition, channelID, categoryID string) bool {
	if want := channelFor(e.channels, def.kind); want != "" && channelID != want {
		return false
	}
	if e.channels.CategoryID != "" && categoryID != "" && categoryID != e.channels.CategoryID {
		return false
	}
	return true
}

func (e *Engine) handleCommand(ctx context.Context, def definition, ev chat.SlashCommand) error {
	e.sweep(ctx)

	if !e.guard(def, ev.ChannelID, ev.CategoryID) {
		return e.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Este comando solo puede usarse en su canal correspondiente."))
	}
	if def.backOffice && !e.gate.Allow(ev.Member) {
		return e.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("No tenés permisos para usar este comando."))
	}

	if !def.hasSubtypes() {
		// No menu step: straight to the form, no state until submit.
		return e.gateway.OpenForm(ctx, ev.InteractionID, def.form())
	}

	st := convstore.State{
		UserID:     ev.UserID,
		FlowKind:   string(def.kind),
		Step:       StepAwaitingSubtype,
		Selections: map[string]string{},
		UpdatedAt:  time.Now(),
	}
	if err := e.conv.Put(ctx, st); err != nil {
		return fmt.Errorf("saving dialog state: %w", err)
	}

	return e.gateway.Respond(ctx, ev.InteractionID, chat.Message{
		Content:   fmt.Sprintf("**%s**: elegí el motivo", def.kind.Title()),
		Select:    def.subtypeMenu(),
		Ephemeral: true,
	})
}

// handleSubtype advances a menu flow to the form step.
func (e *Engine) handleSubtype(ctx context.Context, ev chat.ComponentClick) error {
	e.sweep(ctx)

	kind, action, ok := parseFlowID(ev.CustomID)
	if !ok || action != "subtype" {
		return nil
	}
	def, ok := e.defs[kind]
	if !ok || len(ev.Values) == 0 {
		return nil
	}

	st, found, err := e.conv.Get(ctx, ev.UserID, string(kind))
	if err != nil {
		return fmt.Errorf("reading dialog state: %w", err)
	}
	if !found || st.Step != StepAwaitingSubtype {
		// Expired or never started: treat as no active flow.
		return e.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("La sesión expiró. Volvé a ejecutar el comando."))
	}

	st.Step = StepAwaitingForm
	st.Selections[KeySubtype] = ev.Values[0]
	st.UpdatedAt = time.Now()
	if err := e.conv.Put(ctx, st); err != nil {
		return fmt.Errorf("saving dialog state: %w", err)
	}

	return e.gateway.OpenForm(ctx, ev.InteractionID, def.form())
}

// handleForm validates a submitted form and persists the case.
func (e *Engine) handleForm(ctx context.Context, ev chat.ModalSubmit) error {
	e.sweep(ctx)

	kind, action, ok := parseFlowID(ev.CustomID)
	if !ok || action != "form" {
		return nil
	}
	def, ok := e.defs[kind]
	if !ok {
		return nil
	}

	// Menu flows carry the chosen subtype in state; its absence after
	// expiry is terminal for the dialog.
	var subtype string
	if def.hasSubtypes() {
		st, found, err := e.conv.Get(ctx, ev.UserID, string(kind))
		if err != nil {
			return fmt.Errorf("reading dialog state: %w", err)
		}
		if !found || st.Value(KeySubtype) == "" {
			return e.gateway.Respond(ctx, ev.InteractionID,
				chat.Ephemeral("La sesión expiró. Volvé a ejecutar el comando."))
		}
		subtype = st.Value(KeySubtype)
	}

	rec, verr := buildRecord(def, ev.Fields)
	if verr != "" {
		e.clearState(ctx, ev.UserID, kind)
		return e.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral(verr))
	}
	rec.Subtype = subtype
	rec.AgentName = ev.DisplayName

	err := e.repo.Insert(ctx, kind, rec)

	var dup *cases.DuplicateError
	var schema *cases.SchemaMismatchError
	switch {
	case errors.As(err, &dup):
		e.clearState(ctx, ev.UserID, kind)
		return e.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral(
			fmt.Sprintf("⚠️ El pedido **%s** ya está registrado en %s.", dup.OrderNumber, kind.Title())))
	case errors.As(err, &schema):
		e.clearState(ctx, ev.UserID, kind)
		return e.gateway.Respond(ctx, ev.InteractionID, chat.Ephemeral(
			fmt.Sprintf("❌ La hoja de %s no tiene la columna **%s**. Avisá a un administrador.", kind.Title(), schema.Column)))
	case err != nil:
		e.clearState(ctx, ev.UserID, kind)
		logger.Error("flow: insert failed", "kind", kind, "user", ev.UserID, "error", err)
		return e.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("❌ No se pudo guardar el caso. Probá de nuevo en unos minutos."))
	}

	if kind == cases.InvoiceA {
		// Park the dialog waiting for the invoice files.
		st := convstore.State{
			UserID:   ev.UserID,
			FlowKind: string(kind),
			Step:     StepAwaitingAttachments,
			Selections: map[string]string{
				KeyOrderNumber: rec.OrderNumber,
				KeyCaseNumber:  rec.CaseNumber,
			},
			RequestID: convstore.NewRequestID(ev.UserID),
			UpdatedAt: time.Now(),
		}
		if err := e.conv.Put(ctx, st); err != nil {
			logger.Error("flow: saving attachment-wait state failed", "user", ev.UserID, "error", err)
		}
		return e.gateway.Respond(ctx, ev.InteractionID, chat.Message{
			Embeds: []chat.Embed{confirmationEmbed(def, rec)},
			Content: fmt.Sprintf("%s subí la factura en este canal (tenés 10 minutos).",
				chat.UserRef{ID: ev.UserID}.Mention()),
		})
	}

	e.clearState(ctx, ev.UserID, kind)
	return e.gateway.Respond(ctx, ev.InteractionID, chat.Message{
		Embeds: []chat.Embed{confirmationEmbed(def, rec)},
	})
}

// handleSearch implements buscar-caso: whole-string case-insensitive match
// of an order number across every configured case sheet.
func (e *Engine) handleSearch(ctx context.Context, ev chat.SlashCommand) error {
	e.sweep(ctx)

	order := strings.TrimSpace(ev.Args["order"])
	if order == "" {
		return e.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Indicá el número de pedido a buscar."))
	}

	// Scanning every sheet can exceed the acknowledgement deadline.
	if err := e.gateway.Defer(ctx, ev.InteractionID, true); err != nil {
		return fmt.Errorf("deferring search: %w", err)
	}

	matches, err := e.repo.Search(ctx, order)
	if err != nil {
		logger.Error("flow: search failed", "order", order, "error", err)
		return e.gateway.FollowUp(ctx, ev.InteractionID,
			chat.Ephemeral("❌ No se pudo completar la búsqueda. Probá de nuevo."))
	}
	if len(matches) == 0 {
		return e.gateway.FollowUp(ctx, ev.InteractionID,
			chat.Ephemeral(fmt.Sprintf("No se encontró el pedido **%s** en ninguna planilla.", order)))
	}

	embed := chat.Embed{
		Title: fmt.Sprintf("🔎 Pedido %s", order),
		Color: chat.ColorInfo,
	}
	for _, m := range matches {
		lines := []string{"Fecha: " + orDash(m.Timestamp)}
		if m.CaseNumber != "" {
			lines = append(lines, "Caso: "+m.CaseNumber)
		}
		if m.Subtype != "" {
			lines = append(lines, "Solicitud: "+m.Subtype)
		}
		lines = append(lines, "Tomado por: "+orDash(m.Handler), "Resuelto: "+orDash(m.Resolved))
		if m.ErrorText != "" {
			lines = append(lines, "⚠️ Error: "+m.ErrorText)
		}
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:  m.Kind.Title(),
			Value: strings.Join(lines, "\n"),
		})
	}
	return e.gateway.FollowUp(ctx, ev.InteractionID, chat.Message{
		Embeds: []chat.Embed{embed}, Ephemeral: true,
	})
}

func (e *Engine) clearState(ctx context.Context, userID string, kind cases.Kind) {
	if err := e.conv.Delete(ctx, userID, string(kind)); err != nil {
		logger.Warn("flow: clearing dialog state failed", "user", userID, "kind", kind, "error", err)
	}
}

// buildRecord validates form fields and assembles the record. The returned
// string is a user-facing validation message, empty on success.
func buildRecord(def definition, fields map[string]string) (cases.Record, string) {
	var rec cases.Record
	for _, f := range def.fields {
		v := strings.TrimSpace(fields[f.key])
		if v == "" {
			if f.required {
				return rec, fmt.Sprintf("El campo **%s** es obligatorio.", f.label)
			}
			continue
		}
		if f.kind == fieldEmail && !emailRe.MatchString(v) {
			return rec, fmt.Sprintf("**%s** no es un email válido.", v)
		}
		switch f.field {
		case cases.FieldOrderNumber:
			rec.OrderNumber = v
		case cases.FieldCaseNumber:
			rec.CaseNumber = v
		case cases.FieldContactData:
			rec.ContactData = v
		case cases.FieldEmail:
			rec.Email = v
		case cases.FieldFileTag:
			rec.FileTag = v
		case cases.FieldObservations:
			rec.Observations = v
		}
	}
	return rec, ""
}

func confirmationEmbed(def definition, rec cases.Record) chat.Embed {
	embed := chat.Embed{
		Title: "✅ Caso registrado: " + def.kind.Title(),
		Color: chat.ColorSuccess,
		Fields: []chat.EmbedField{
			{Name: "Pedido", Value: rec.OrderNumber, Inline: true},
		},
	}
	add := func(name, value string) {
		if value != "" {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: name, Value: value, Inline: true})
		}
	}
	add("Caso", rec.CaseNumber)
	add("Solicitud", rec.Subtype)
	add("Email", rec.Email)
	add("Contacto", rec.ContactData)
	add("Etiqueta", rec.FileTag)
	add("Agente", rec.AgentName)
	if rec.Observations != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Observaciones", Value: rec.Observations})
	}
	return embed
}

// parseFlowID splits "flow:{kind}:{action}".
func parseFlowID(id string) (cases.Kind, string, bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != "flow" {
		return "", "", false
	}
	return cases.Kind(parts[1]), parts[2], true
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
