package chat

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/opsdesk/casebot/internal/pkg/logger"
)

// dispatchContext detaches handler execution from the inbound HTTP request:
// the request is acked immediately, the handler gets its own deadline.
type dispatchContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newDispatchContext() dispatchContext {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	return dispatchContext{ctx: ctx, cancel: cancel}
}

// Inbound interaction types on the wire.
const (
	interactionPing      = 1
	interactionCommand   = 2
	interactionComponent = 3
	interactionModal     = 5
)

// Webhook receives the platform's interaction callbacks over HTTP, verifies
// their signature, and hands typed events to the Dispatcher. Dispatching
// runs in its own goroutine; the platform only needs the HTTP 200 (or the
// pong for its liveness ping).
type Webhook struct {
	publicKey  ed25519.PublicKey
	dispatcher *Dispatcher
}

// NewWebhook builds the receiver. publicKeyHex is the platform
// application's hex-encoded verification key; an invalid key disables
// verification and is logged loudly.
func NewWebhook(publicKeyHex string, dispatcher *Dispatcher) *Webhook {
	var key ed25519.PublicKey
	if raw, err := hex.DecodeString(publicKeyHex); err == nil && len(raw) == ed25519.PublicKeySize {
		key = raw
	} else {
		logger.Warn("webhook: signature verification disabled, invalid public key")
	}
	return &Webhook{publicKey: key, dispatcher: dispatcher}
}

type wireUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

type wireMember struct {
	Nick        string   `json:"nick"`
	Roles       []string `json:"roles"`
	Permissions string   `json:"permissions"`
	User        wireUser `json:"user"`
}

type wireInteraction struct {
	ID        string     `json:"id"`
	Type      int        `json:"type"`
	Token     string     `json:"token"`
	ChannelID string     `json:"channel_id"`
	GuildID   string     `json:"guild_id"`
	Member    wireMember `json:"member"`
	User      wireUser   `json:"user"`
	Channel   struct {
		ParentID string `json:"parent_id"`
	} `json:"channel"`
	Data struct {
		Name    string `json:"name"`
		Options []struct {
			Name  string          `json:"name"`
			Value json.RawMessage `json:"value"`
		} `json:"options"`
		CustomID   string   `json:"custom_id"`
		Values     []string `json:"values"`
		Components []struct {
			Components []struct {
				CustomID string `json:"custom_id"`
				Value    string `json:"value"`
			} `json:"components"`
		} `json:"components"`
	} `json:"data"`
}

const permAdministrator = 0x8

func (w wireInteraction) member() Member {
	m := Member{UserID: w.userID(), RoleIDs: w.Member.Roles}
	if perms, err := strconv.ParseUint(w.Member.Permissions, 10, 64); err == nil {
		m.IsAdmin = perms&permAdministrator != 0
	}
	return m
}

func (w wireInteraction) userID() string {
	if w.Member.User.ID != "" {
		return w.Member.User.ID
	}
	return w.User.ID
}

func (w wireInteraction) displayName() string {
	if w.Member.Nick != "" {
		return w.Member.Nick
	}
	u := w.Member.User
	if u.ID == "" {
		u = w.User
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// ServeHTTP implements the interactions endpoint.
func (h *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "unreadable body", http.StatusBadRequest)
		return
	}

	if h.publicKey != nil && !h.verify(r, body) {
		http.Error(rw, "invalid signature", http.StatusUnauthorized)
		return
	}

	var in wireInteraction
	if err := json.Unmarshal(body, &in); err != nil {
		http.Error(rw, "invalid payload", http.StatusBadRequest)
		return
	}

	if in.Type == interactionPing {
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"type":1}`))
		return
	}

	// The callback itself is delivered out-of-band through the Gateway, so
	// the HTTP exchange is just an ack.
	go h.dispatch(in)
	rw.WriteHeader(http.StatusAccepted)
}

func (h *Webhook) verify(r *http.Request, body []byte) bool {
	sig, err := hex.DecodeString(r.Header.Get("X-Signature-Ed25519"))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	ts := r.Header.Get("X-Signature-Timestamp")
	return ed25519.Verify(h.publicKey, append([]byte(ts), body...), sig)
}

func (h *Webhook) dispatch(in wireInteraction) {
	ctx := newDispatchContext()
	defer ctx.cancel()

	id := InteractionID(in.ID, in.Token)
	switch in.Type {
	case interactionCommand:
		args := make(map[string]string, len(in.Data.Options))
		for _, opt := range in.Data.Options {
			var s string
			if err := json.Unmarshal(opt.Value, &s); err != nil {
				s = string(opt.Value)
			}
			args[opt.Name] = s
		}
		h.dispatcher.DispatchCommand(ctx.ctx, SlashCommand{
			InteractionID: id,
			UserID:        in.userID(),
			DisplayName:   in.displayName(),
			ChannelID:     in.ChannelID,
			CategoryID:    in.Channel.ParentID,
			Member:        in.member(),
			Command:       in.Data.Name,
			Args:          args,
		})
	case interactionComponent:
		h.dispatcher.DispatchComponent(ctx.ctx, ComponentClick{
			InteractionID: id,
			UserID:        in.userID(),
			DisplayName:   in.displayName(),
			ChannelID:     in.ChannelID,
			Member:        in.member(),
			CustomID:      in.Data.CustomID,
			Values:        in.Data.Values,
		})
	case interactionModal:
		fields := make(map[string]string)
		for _, row := range in.Data.Components {
			for _, c := range row.Components {
				fields[c.CustomID] = c.Value
			}
		}
		h.dispatcher.DispatchModal(ctx.ctx, ModalSubmit{
			InteractionID: id,
			UserID:        in.userID(),
			DisplayName:   in.displayName(),
			ChannelID:     in.ChannelID,
			Member:        in.member(),
			CustomID:      in.Data.CustomID,
			Fields:        fields,
		})
	default:
		logger.Warn("webhook: unhandled interaction type", "type", in.Type)
	}
}

// MessageRelay receives file-bearing message notifications. The platform's
// interactions webhook does not carry plain messages, so a lightweight
// relay posts them here.
type MessageRelay struct {
	dispatcher *Dispatcher
}

// NewMessageRelay builds the relay endpoint handler.
func NewMessageRelay(dispatcher *Dispatcher) *MessageRelay {
	return &MessageRelay{dispatcher: dispatcher}
}

// ServeHTTP accepts one message with attachments.
func (m *MessageRelay) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var in struct {
		ID        string   `json:"id"`
		ChannelID string   `json:"channel_id"`
		Author    wireUser `json:"author"`
		Member    struct {
			Nick string `json:"nick"`
		} `json:"member"`
		Attachments []struct {
			Filename string `json:"filename"`
			URL      string `json:"url"`
			Size     int64  `json:"size"`
		} `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(rw, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(in.Attachments) == 0 {
		rw.WriteHeader(http.StatusNoContent)
		return
	}

	ev := AttachmentMessage{
		MessageID: in.ID,
		UserID:    in.Author.ID,
		ChannelID: in.ChannelID,
	}
	ev.DisplayName = in.Member.Nick
	if ev.DisplayName == "" {
		ev.DisplayName = in.Author.Username
	}
	for _, a := range in.Attachments {
		ev.Attachments = append(ev.Attachments, Attachment{Name: a.Filename, URL: a.URL, Size: a.Size})
	}

	ctx := newDispatchContext()
	go func() {
		defer ctx.cancel()
		m.dispatcher.DispatchAttachment(ctx.ctx, ev)
	}()
	rw.WriteHeader(http.StatusAccepted)
}
