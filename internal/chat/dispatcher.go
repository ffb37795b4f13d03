package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/opsdesk/casebot/internal/pkg/logger"
)

// Handler signatures for each event variant.
type (
	CommandHandler    func(ctx context.Context, ev SlashCommand) error
	ComponentHandler  func(ctx context.Context, ev ComponentClick) error
	ModalHandler      func(ctx context.Context, ev ModalSubmit) error
	AttachmentHandler func(ctx context.Context, ev AttachmentMessage) error
)

// Dispatcher routes typed platform events to registered handlers. Commands
// route by exact name; components and modals route by custom-id prefix so a
// single handler can own a family of ids ("timer:", "flow:invoice_a:", ...).
//
// The component fallback exists for buttons that outlive a process restart:
// a click whose custom id no longer matches any live route still reaches the
// fallback, which can recover the caller's state from durable storage.
type Dispatcher struct {
	mu                sync.RWMutex
	commands          map[string]CommandHandler
	components        []prefixRoute[ComponentHandler]
	modals            []prefixRoute[ModalHandler]
	attachments       []AttachmentHandler
	componentFallback ComponentHandler
}

type prefixRoute[H any] struct {
	prefix  string
	handler H
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[string]CommandHandler)}
}

// Command registers a handler for a slash command name.
func (d *Dispatcher) Command(name string, h CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = h
}

// Component registers a handler for custom ids starting with prefix.
func (d *Dispatcher) Component(prefix string, h ComponentHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, prefixRoute[ComponentHandler]{prefix, h})
}

// ComponentFallback registers the handler for clicks no route matches.
func (d *Dispatcher) ComponentFallback(h ComponentHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.componentFallback = h
}

// Modal registers a handler for form custom ids starting with prefix.
func (d *Dispatcher) Modal(prefix string, h ModalHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modals = append(d.modals, prefixRoute[ModalHandler]{prefix, h})
}

// Attachments registers a handler for file-bearing messages. All registered
// handlers see every attachment message; each decides whether it applies.
func (d *Dispatcher) Attachments(h AttachmentHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachments = append(d.attachments, h)
}

// DispatchCommand routes a slash command. Unknown commands are logged and
// dropped; the platform registration is the source of valid names.
func (d *Dispatcher) DispatchCommand(ctx context.Context, ev SlashCommand) {
	d.mu.RLock()
	h, ok := d.commands[ev.Command]
	d.mu.RUnlock()
	if !ok {
		logger.Warn("dispatcher: unknown command", "command", ev.Command, "user", ev.UserID)
		return
	}
	if err := h(ctx, ev); err != nil {
		logger.Error("dispatcher: command handler failed",
			"command", ev.Command, "user", ev.UserID, "error", err)
	}
}

// DispatchComponent routes a component click by custom-id prefix, falling
// back to the persistent fallback handler when nothing matches.
func (d *Dispatcher) DispatchComponent(ctx context.Context, ev ComponentClick) {
	d.mu.RLock()
	var h ComponentHandler
	for _, r := range d.components {
		if strings.HasPrefix(ev.CustomID, r.prefix) {
			h = r.handler
			break
		}
	}
	if h == nil {
		h = d.componentFallback
	}
	d.mu.RUnlock()

	if h == nil {
		logger.Warn("dispatcher: unrouted component", "custom_id", ev.CustomID, "user", ev.UserID)
		return
	}
	if err := h(ctx, ev); err != nil {
		logger.Error("dispatcher: component handler failed",
			"custom_id", ev.CustomID, "user", ev.UserID, "error", err)
	}
}

// DispatchModal routes a form submission by custom-id prefix.
func (d *Dispatcher) DispatchModal(ctx context.Context, ev ModalSubmit) {
	d.mu.RLock()
	var h ModalHandler
	for _, r := range d.modals {
		if strings.HasPrefix(ev.CustomID, r.prefix) {
			h = r.handler
			break
		}
	}
	d.mu.RUnlock()

	if h == nil {
		logger.Warn("dispatcher: unrouted modal", "custom_id", ev.CustomID, "user", ev.UserID)
		return
	}
	if err := h(ctx, ev); err != nil {
		logger.Error("dispatcher: modal handler failed",
			"custom_id", ev.CustomID, "user", ev.UserID, "error", err)
	}
}

// DispatchAttachment fans a file-bearing message out to every registered
// attachment handler.
func (d *Dispatcher) DispatchAttachment(ctx context.Context, ev AttachmentMessage) {
	d.mu.RLock()
	handlers := make([]AttachmentHandler, len(d.attachments))
	copy(handlers, d.attachments)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			logger.Error("dispatcher: attachment handler failed",
				"message", ev.MessageID, "user", ev.UserID, "error", err)
		}
	}
}
