// Package attach binds uploaded invoice files to their case record. An
// InvoiceA flow parks in conversation state waiting for attachments; the
// linker consumes that state on the first file-bearing message, uploads the
// files into a per-order folder, and posts a confirmation carrying the
// back-office "mark as loaded" action.
package attach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opsdesk/casebot/internal/blob"
	"github.com/opsdesk/casebot/internal/cases"
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/convstore"
	"github.com/opsdesk/casebot/internal/flow"
	"github.com/opsdesk/casebot/internal/permits"
	"github.com/opsdesk/casebot/internal/pkg/logger"
)

const loadedPrefix = "attach:loaded:"

// Linker wires attachment messages to the blob store and the case sheet.
type Linker struct {
	conv     convstore.Store
	blobs    blob.Store
	repo     *cases.Repository
	gateway  chat.Gateway
	gate     *permits.Gate
	parentID string
	channel  string
	ttl      time.Duration
	loc      *time.Location
	now      func() time.Time

	// Spacing between consecutive uploads; the blob provider rate-limits
	// bursts. Tests set this to zero.
	uploadDelay time.Duration
}

// NewLinker builds a Linker. channel is the InvoiceA channel id; messages
// elsewhere are ignored. ttl bounds how long a parked dialog stays valid.
func NewLinker(conv convstore.Store, blobs blob.Store, repo *cases.Repository,
	gateway chat.Gateway, gate *permits.Gate, parentID, channel string,
	ttl time.Duration, loc *time.Location) *Linker {
	return &Linker{
		conv:        conv,
		blobs:       blobs,
		repo:        repo,
		gateway:     gateway,
		gate:        gate,
		parentID:    parentID,
		channel:     channel,
		ttl:         ttl,
		loc:         loc,
		now:         time.Now,
		uploadDelay: time.Second,
	}
}

// WithClock overrides the clock for tests.
func (l *Linker) WithClock(now func() time.Time) *Linker {
	l.now = now
	return l
}

// WithUploadDelay overrides the inter-upload spacing.
func (l *Linker) WithUploadDelay(d time.Duration) *Linker {
	l.uploadDelay = d
	return l
}

// Register wires the linker into the dispatcher.
func (l *Linker) Register(d *chat.Dispatcher) {
	d.Attachments(l.HandleMessage)
	d.Component(loadedPrefix, l.handleLoaded)
}

// HandleMessage processes a file-bearing message. It applies only when the
// sender has an InvoiceA dialog parked at the awaiting-attachments step in
// the invoice channel; everything else is silently ignored.
func (l *Linker) HandleMessage(ctx context.Context, ev chat.AttachmentMessage) error {
	if l.channel != "" && ev.ChannelID != l.channel {
		return nil
	}
	if len(ev.Attachments) == 0 {
		return nil
	}

	// Stale dialogs are swept before the lookup; a file arriving after the
	// TTL finds nothing, same as in the flow engine.
	if n, err := l.conv.SweepExpired(ctx, l.ttl); err != nil {
		logger.Warn("attach: sweep failed", "error", err)
	} else if n > 0 {
		logger.Debug("attach: swept stale dialogs", "count", n)
	}

	st, found, err := l.conv.Get(ctx, ev.UserID, string(cases.InvoiceA))
	if err != nil {
		return fmt.Errorf("reading dialog state: %w", err)
	}
	if !found || st.Step != flow.StepAwaitingAttachments {
		return nil
	}

	// Take is the gate against double-processing: a second message with
	// files while this one is in flight finds nothing.
	st, ok, err := l.conv.Take(ctx, ev.UserID, string(cases.InvoiceA))
	if err != nil {
		return fmt.Errorf("consuming dialog state: %w", err)
	}
	if !ok {
		return nil
	}

	order := st.Value(flow.KeyOrderNumber)
	if order == "" {
		logger.Warn("attach: state without order number", "user", ev.UserID, "request_id", st.RequestID)
		return nil
	}

	folderID, err := l.blobs.EnsureFolder(ctx, l.parentID, "FacturaA_"+order)
	if err != nil {
		l.notify(ctx, ev.ChannelID,
			chat.Message{Content: "❌ No se pudo preparar la carpeta de la factura. Probá de nuevo."})
		return fmt.Errorf("resolving folder for %s: %w", order, err)
	}

	var uploaded, failed []string
	for i, att := range ev.Attachments {
		if i > 0 && l.uploadDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.uploadDelay):
			}
		}
		content, err := l.gateway.Download(ctx, att.URL)
		if err == nil {
			err = l.blobs.Upload(ctx, folderID, att.Name, content)
		}
		if err != nil {
			logger.Error("attach: upload failed",
				"order", order, "file", att.Name, "request_id", st.RequestID, "error", err)
			failed = append(failed, att.Name)
			continue
		}
		uploaded = append(uploaded, att.Name)
	}

	logger.Info("attach: files linked",
		"order", order, "uploaded", len(uploaded), "failed", len(failed), "request_id", st.RequestID)

	l.notify(ctx, ev.ChannelID, chat.Message{Content: summary(order, uploaded, failed)})

	if len(uploaded) == 0 {
		return nil
	}
	return l.confirm(ctx, ev.ChannelID, order)
}

// confirm looks the order up in the invoice sheet and posts the artifact
// carrying the back-office load confirmation button.
func (l *Linker) confirm(ctx context.Context, channelID, order string) error {
	ref, found, err := l.repo.FindOrder(ctx, cases.InvoiceA, order)
	if err != nil {
		return fmt.Errorf("looking up order %s: %w", order, err)
	}

	embed := chat.Embed{
		Title: "📎 Factura A adjuntada",
		Color: chat.ColorInfo,
		Fields: []chat.EmbedField{
			{Name: "Pedido", Value: order, Inline: true},
		},
	}
	if found {
		if ref.CaseNumber != "" {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Caso", Value: ref.CaseNumber, Inline: true})
		}
		if ref.Timestamp != "" {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Cargado", Value: ref.Timestamp, Inline: true})
		}
	}

	_, err = l.gateway.SendMessage(ctx, channelID, chat.Message{
		Embeds: []chat.Embed{embed},
		Buttons: []chat.Button{{
			Label:    "Marcar como cargada",
			CustomID: loadedPrefix + order,
			Style:    chat.ButtonSuccess,
		}},
	})
	if err != nil {
		return fmt.Errorf("posting confirmation: %w", err)
	}
	return nil
}

// handleLoaded is the back-office load confirmation. Repeated clicks are
// answered without rewriting the cell.
func (l *Linker) handleLoaded(ctx context.Context, ev chat.ComponentClick) error {
	order := strings.TrimPrefix(ev.CustomID, loadedPrefix)
	if order == "" {
		return nil
	}
	if !l.gate.Allow(ev.Member) {
		return l.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Solo Back Office puede confirmar la carga."))
	}

	stamp := l.now().In(l.loc).Format(cases.TimestampLayout)
	already, err := l.repo.MarkLoaded(ctx, cases.InvoiceA, order, stamp)
	if err != nil {
		logger.Error("attach: load confirmation failed", "order", order, "error", err)
		return l.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("❌ No se pudo confirmar la carga. Probá de nuevo."))
	}
	if already {
		return l.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral(fmt.Sprintf("El pedido **%s** ya estaba confirmado.", order)))
	}
	return l.gateway.Respond(ctx, ev.InteractionID, chat.Message{
		Content: fmt.Sprintf("✅ Factura del pedido **%s** marcada como cargada por %s.",
			order, ev.DisplayName),
	})
}

func (l *Linker) notify(ctx context.Context, channelID string, msg chat.Message) {
	if _, err := l.gateway.SendMessage(ctx, channelID, msg); err != nil {
		logger.Warn("attach: notify failed", "channel", channelID, "error", err)
	}
}

func summary(order string, uploaded, failed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Archivos del pedido **%s**:\n", order)
	for _, name := range uploaded {
		fmt.Fprintf(&b, "✅ %s\n", name)
	}
	for _, name := range failed {
		fmt.Fprintf(&b, "❌ %s (falló la subida)\n", name)
	}
	return strings.TrimRight(b.String(), "\n")
}
