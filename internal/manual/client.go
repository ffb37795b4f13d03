// Package manual answers free-text questions against the operations manual
// through a chat-completions upstream. Disabled cleanly when no API key is
// configured.
package manual

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/httpretry"
	"github.com/opsdesk/casebot/internal/pkg/logger"
)

// ErrDisabled is returned when the AI upstream is not configured.
var ErrDisabled = errors.New("manual assistant disabled")

const (
	completionsURL = "https://api.openai.com/v1/chat/completions"
	defaultModel   = "gpt-4o-mini"
)

const systemPrompt = "Sos el asistente del manual operativo de atención al cliente. " +
	"Respondé en español, de forma breve y concreta, usando únicamente la información " +
	"del manual que se incluye a continuación. Si el manual no cubre la pregunta, decilo.\n\n"

// ManualSource returns the manual document's text. The bootstrap wires this
// to a blob-store export so the document can change without a redeploy.
type ManualSource func(ctx context.Context) (string, error)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type completionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client answers manual questions.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	source     ManualSource
	httpClient httpretry.HTTPDoer
}

// NewClient builds a manual-assistant client. source provides the manual
// document text per question.
func NewClient(cfg config.ManualConfig, source ManualSource) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	base := &http.Client{Timeout: cfg.Timeout()}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    completionsURL,
		source:     source,
		httpClient: httpretry.NewRetryClient(base, 2),
	}
}

// NewClientWithDoer builds a Client on an explicit HTTPDoer and base URL.
// Used by tests.
func NewClientWithDoer(doer httpretry.HTTPDoer, baseURL, apiKey string, source ManualSource) *Client {
	return &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    baseURL,
		source:     source,
		httpClient: doer,
	}
}

// Enabled reports whether the upstream is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Ask answers one question against the manual.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	doc, err := c.source(ctx)
	if err != nil {
		return "", fmt.Errorf("loading manual: %w", err)
	}

	reqBody := completionsRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt + doc},
			{Role: "user", Content: question},
		},
		Temperature: 0.2,
		MaxTokens:   800,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var cr completionsResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("parsing response (status %d): %w", resp.StatusCode, err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("upstream error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return cr.Choices[0].Message.Content, nil
}

// Handlers exposes the manual command.
type Handlers struct {
	client  *Client
	gateway chat.Gateway
}

// NewHandlers builds the manual command handlers.
func NewHandlers(client *Client, gateway chat.Gateway) *Handlers {
	return &Handlers{client: client, gateway: gateway}
}

// Register wires the manual command into the dispatcher.
func (h *Handlers) Register(d *chat.Dispatcher) {
	d.Command("manual", h.handleManual)
}

func (h *Handlers) handleManual(ctx context.Context, ev chat.SlashCommand) error {
	question := strings.TrimSpace(ev.Args["question"])
	if question == "" {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("Escribí la pregunta que querés hacerle al manual."))
	}
	if !h.client.Enabled() {
		return h.gateway.Respond(ctx, ev.InteractionID,
			chat.Ephemeral("El asistente del manual no está habilitado."))
	}

	if err := h.gateway.Defer(ctx, ev.InteractionID, false); err != nil {
		return fmt.Errorf("deferring manual question: %w", err)
	}

	answer, err := h.client.Ask(ctx, question)
	if err != nil {
		logger.Error("manual: question failed", "error", err)
		return h.gateway.FollowUp(ctx, ev.InteractionID,
			chat.Ephemeral("❌ No se pudo consultar el manual. Probá de nuevo."))
	}

	return h.gateway.FollowUp(ctx, ev.InteractionID, chat.Message{
		Embeds: []chat.Embed{{
			Title:       "📖 Manual operativo",
			Description: answer,
			Color:       chat.ColorInfo,
			Footer:      question,
		}},
	})
}
