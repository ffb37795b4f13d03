// Package parcel is the thin synchronous client for the parcel-tracking
// upstream, plus the chat command that renders a shipment's state and
// movement history.
package parcel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/httpretry"
	"github.com/opsdesk/casebot/internal/pkg/logger"
)

// ErrNotFound is returned when the upstream has no shipment for the number.
var ErrNotFound = errors.New("shipment not found")

// Movement is one entry of a shipment's history.
type Movement struct {
	At          string `json:"fecha"`
	Location    string `json:"sucursal"`
	Description string `json:"estado"`
}

// Shipment is the tracked parcel: its current state and history, newest
// first as the upstream reports it.
type Shipment struct {
	Number    string     `json:"numero"`
	Status    string     `json:"estado"`
	Movements []Movement `json:"movimientos"`
}

// Client calls the tracking upstream.
type Client struct {
	baseURL    string
	authHeader string
	httpClient httpretry.HTTPDoer
}

// NewClient builds a tracking client from configuration.
func NewClient(cfg config.TrackingConfig) *Client {
	base := &http.Client{Timeout: cfg.Timeout()}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authHeader: cfg.AuthHeader,
		httpClient: httpretry.NewRetryClient(base, 3),
	}
}

// NewClientWithDoer builds a Client on an explicit HTTPDoer. Used by tests.
func NewClientWithDoer(doer httpretry.HTTPDoer, baseURL, authHeader string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: authHeader,
		httpClient: doer,
	}
}

// Track looks a shipment up by tracking number.
func (c *Client) Track(ctx context.Context, number string) (*Shipment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tracking/%s", c.baseURL, url.PathEscape(number)), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, number)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracking upstream error (status %d): %s", resp.StatusCode, string(body))
	}

	var s Shipment
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("parsing shipment: %w", err)
	}
	if s.Number == "" {
		s.Number = number
	}
	return &s, nil
}

// Handlers exposes the tracking command.
type Handlers struct {
	client  *Client
	gateway chat.Gateway
}

// NewHandlers builds the tracking command handlers.
func NewHandlers(client *Client, gateway chat.Gateway) *Handlers {
	return &Handlers{client: client, gateway: gateway}
}

// Register wires the tracking command into the dispatcher.
func (h *Handlers) Register(d *chat.Dispatcher) {
	d.Command("tracking", h.handleTracking)
}

func (h *Handlers) handleTracking(ctx context.Context, ev chat.SlashCommand) error {
	number := strings.TrimSpace(ev.Args["number"])
	if number == "" {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Indicá el número de seguimiento."))
	}

	if err := h.gateway.Defer(ctx, ev.InteractionID, false); err != nil {
		return fmt.Errorf("deferring tracking lookup: %w", err)
	}

	s, err := h.client.Track(ctx, number)
	if errors.Is(err, ErrNotFound) {
		return h.gateway.FollowUp(ctx, ev.InteractionID,
			chat.Ephemeral(fmt.Sprintf("No se encontró el envío **%s**.", number)))
	}
	if err != nil {
		logger.Error("parcel: lookup failed", "number", number, "error", err)
		return h.gateway.FollowUp(ctx, ev.InteractionID,
			chat.Ephemeral("❌ El servicio de tracking no respondió. Probá de nuevo en unos minutos."))
	}

	return h.gateway.FollowUp(ctx, ev.InteractionID, chat.Message{
		Embeds: []chat.Embed{renderShipment(s)},
	})
}

func renderShipment(s *Shipment) chat.Embed {
	embed := chat.Embed{
		Title: "📦 Envío " + s.Number,
		Color: chat.ColorInfo,
		Fields: []chat.EmbedField{
			{Name: "Estado actual", Value: s.Status},
		},
	}
	if len(s.Movements) > 0 {
		var b strings.Builder
		for _, m := range s.Movements {
			fmt.Fprintf(&b, "`%s` %s", m.At, m.Description)
			if m.Location != "" {
				fmt.Fprintf(&b, " (%s)", m.Location)
			}
			b.WriteString("\n")
		}
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name:  "Historial",
			Value: strings.TrimRight(b.String(), "\n"),
		})
	}
	return embed
}
