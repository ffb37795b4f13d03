package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/httpretry"
)

const defaultAPIBase = "https://discord.com/api/v10"

// Interaction callback types on the wire.
const (
	callbackReply         = 4
	callbackDeferredReply = 5
	callbackModal         = 9
)

const flagEphemeral = 1 << 6

// RESTGateway is the production Gateway over the platform's REST API.
// Interaction ids are carried as "id/token" pairs so callbacks and
// follow-ups can be addressed without extra state.
type RESTGateway struct {
	baseURL    string
	token      string
	appID      string
	httpClient httpretry.HTTPDoer
}

// NewRESTGateway builds a gateway from chat configuration.
func NewRESTGateway(cfg config.ChatConfig) *RESTGateway {
	base := &http.Client{Timeout: 30 * time.Second}
	return &RESTGateway{
		baseURL:    defaultAPIBase,
		token:      cfg.Token,
		appID:      cfg.AppID,
		httpClient: httpretry.NewRetryClient(base, 3),
	}
}

// NewRESTGatewayWithDoer builds a gateway on an explicit HTTPDoer and base
// URL. Used by tests.
func NewRESTGatewayWithDoer(doer httpretry.HTTPDoer, baseURL, token, appID string) *RESTGateway {
	return &RESTGateway{baseURL: baseURL, token: token, appID: appID, httpClient: doer}
}

// InteractionID packs an interaction's id and token into the routing string
// event decoders hand to handlers.
func InteractionID(id, token string) string { return id + "/" + token }

// wire types

type wireEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type wireEmbed struct {
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Color       int              `json:"color,omitempty"`
	Fields      []wireEmbedField `json:"fields,omitempty"`
	Footer      *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type wireComponent struct {
	Type        int             `json:"type"`
	Style       int             `json:"style,omitempty"`
	Label       string          `json:"label,omitempty"`
	CustomID    string          `json:"custom_id,omitempty"`
	Disabled    bool            `json:"disabled,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
	Options     []wireOption    `json:"options,omitempty"`
	Components  []wireComponent `json:"components,omitempty"`
	Required    bool            `json:"required,omitempty"`
}

type wireOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

type wireMessage struct {
	Content    string          `json:"content,omitempty"`
	Embeds     []wireEmbed     `json:"embeds,omitempty"`
	Components []wireComponent `json:"components,omitempty"`
	Flags      int             `json:"flags,omitempty"`
}

func encodeMessage(msg Message) wireMessage {
	out := wireMessage{Content: msg.Content}
	if msg.Ephemeral {
		out.Flags = flagEphemeral
	}
	for _, e := range msg.Embeds {
		we := wireEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
		for _, f := range e.Fields {
			we.Fields = append(we.Fields, wireEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			we.Footer = &struct {
				Text string `json:"text"`
			}{Text: e.Footer}
		}
		out.Embeds = append(out.Embeds, we)
	}
	if len(msg.Buttons) > 0 {
		row := wireComponent{Type: 1}
		for _, b := range msg.Buttons {
			row.Components = append(row.Components, wireComponent{
				Type:     2,
				Style:    buttonStyle(b.Style),
				Label:    b.Label,
				CustomID: b.CustomID,
				Disabled: b.Disabled,
			})
		}
		out.Components = append(out.Components, row)
	}
	if msg.Select != nil {
		menu := wireComponent{Type: 3, CustomID: msg.Select.CustomID, Placeholder: msg.Select.Placeholder}
		for _, o := range msg.Select.Options {
			menu.Options = append(menu.Options, wireOption{Label: o.Label, Value: o.Value, Description: o.Description})
		}
		out.Components = append(out.Components, wireComponent{Type: 1, Components: []wireComponent{menu}})
	}
	return out
}

func buttonStyle(s ButtonStyle) int {
	switch s {
	case ButtonSecondary:
		return 2
	case ButtonSuccess:
		return 3
	case ButtonDanger:
		return 4
	default:
		return 1
	}
}

func encodeForm(form Form) wireMessage {
	out := wireMessage{}
	for _, in := range form.Inputs {
		style := 1
		if in.Paragraph {
			style = 2
		}
		out.Components = append(out.Components, wireComponent{
			Type: 1,
			Components: []wireComponent{{
				Type:        4,
				Style:       style,
				Label:       in.Label,
				CustomID:    in.Key,
				Placeholder: in.Placeholder,
				Required:    in.Required,
			}},
		})
	}
	return out
}

// SendMessage posts to a channel and returns the new message id.
func (g *RESTGateway) SendMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	body, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages", channelID), encodeMessage(msg))
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parsing created message: %w", err)
	}
	return created.ID, nil
}

// EditMessage replaces an existing message's content and components.
func (g *RESTGateway) EditMessage(ctx context.Context, channelID, messageID string, msg Message) error {
	_, err := g.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID), encodeMessage(msg))
	return err
}

// Respond answers an interaction directly.
func (g *RESTGateway) Respond(ctx context.Context, interactionID string, msg Message) error {
	payload := map[string]any{"type": callbackReply, "data": encodeMessage(msg)}
	_, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/interactions/%s/callback", interactionID), payload)
	return err
}

// Defer acknowledges an interaction so a FollowUp can arrive later.
func (g *RESTGateway) Defer(ctx context.Context, interactionID string, ephemeral bool) error {
	data := map[string]any{}
	if ephemeral {
		data["flags"] = flagEphemeral
	}
	payload := map[string]any{"type": callbackDeferredReply, "data": data}
	_, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/interactions/%s/callback", interactionID), payload)
	return err
}

// FollowUp delivers the deferred answer. The interaction token is the part
// of the id after the first slash.
func (g *RESTGateway) FollowUp(ctx context.Context, interactionID string, msg Message) error {
	_, token, ok := strings.Cut(interactionID, "/")
	if !ok {
		return fmt.Errorf("interaction id %q carries no token", interactionID)
	}
	_, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/webhooks/%s/%s", g.appID, token), encodeMessage(msg))
	return err
}

// OpenForm presents a modal form in answer to an interaction.
func (g *RESTGateway) OpenForm(ctx context.Context, interactionID string, form Form) error {
	data := encodeForm(form)
	payload := map[string]any{
		"type": callbackModal,
		"data": map[string]any{
			"custom_id":  form.CustomID,
			"title":      form.Title,
			"components": data.Components,
		},
	}
	_, err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("/interactions/%s/callback", interactionID), payload)
	return err
}

// ResolveUser searches the guild's members by display name or handle.
func (g *RESTGateway) ResolveUser(ctx context.Context, guildID, name string) (UserRef, bool, error) {
	body, err := g.do(ctx, http.MethodGet,
		fmt.Sprintf("/guilds/%s/members/search?query=%s&limit=1", guildID, url.QueryEscape(name)), nil)
	if err != nil {
		return UserRef{}, false, err
	}
	var members []struct {
		Nick string `json:"nick"`
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &members); err != nil {
		return UserRef{}, false, fmt.Errorf("parsing member search: %w", err)
	}
	if len(members) == 0 {
		return UserRef{}, false, nil
	}
	m := members[0]
	display := m.Nick
	if display == "" {
		display = m.User.Username
	}
	return UserRef{ID: m.User.ID, DisplayName: display}, true, nil
}

// Download fetches an attachment's bytes from its platform URL.
func (g *RESTGateway) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download failed (status %d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (g *RESTGateway) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+g.token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat platform error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
