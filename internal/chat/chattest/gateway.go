// Package chattest provides a recording Gateway fake for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsdesk/casebot/internal/chat"
)

// Sent records one outbound channel message.
type Sent struct {
	ChannelID string
	Message   chat.Message
}

// Responded records one interaction answer, direct or follow-up.
type Responded struct {
	InteractionID string
	Message       chat.Message
	FollowUp      bool
}

// Gateway is an in-memory chat.Gateway. Zero value is ready to use; every
// outbound call is recorded and can be inspected after the code under test
// returns.
type Gateway struct {
	mu sync.Mutex

	Messages  []Sent
	Edits     []Sent
	Responses []Responded
	Deferred  []string
	Forms     []chat.Form

	// Users maps names accepted by ResolveUser to their refs.
	Users map[string]chat.UserRef

	// Files maps attachment URLs to the bytes Download returns.
	Files map[string][]byte

	// SendErr, ResolveErr and DownloadErr, when set, fail the matching
	// method.
	SendErr     error
	ResolveErr  error
	DownloadErr error

	nextID int
}

var _ chat.Gateway = (*Gateway)(nil)

func (g *Gateway) SendMessage(_ context.Context, channelID string, msg chat.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SendErr != nil {
		return "", g.SendErr
	}
	g.Messages = append(g.Messages, Sent{ChannelID: channelID, Message: msg})
	g.nextID++
	return fmt.Sprintf("msg-%d", g.nextID), nil
}

func (g *Gateway) EditMessage(_ context.Context, channelID, messageID string, msg chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Edits = append(g.Edits, Sent{ChannelID: channelID + "/" + messageID, Message: msg})
	return nil
}

func (g *Gateway) Respond(_ context.Context, interactionID string, msg chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Responses = append(g.Responses, Responded{InteractionID: interactionID, Message: msg})
	return nil
}

func (g *Gateway) Defer(_ context.Context, interactionID string, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Deferred = append(g.Deferred, interactionID)
	return nil
}

func (g *Gateway) FollowUp(_ context.Context, interactionID string, msg chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Responses = append(g.Responses, Responded{InteractionID: interactionID, Message: msg, FollowUp: true})
	return nil
}

func (g *Gateway) OpenForm(_ context.Context, _ string, form chat.Form) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Forms = append(g.Forms, form)
	return nil
}

func (g *Gateway) ResolveUser(_ context.Context, _, name string) (chat.UserRef, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ResolveErr != nil {
		return chat.UserRef{}, false, g.ResolveErr
	}
	ref, ok := g.Users[name]
	return ref, ok, nil
}

func (g *Gateway) Download(_ context.Context, url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DownloadErr != nil {
		return nil, g.DownloadErr
	}
	data, ok := g.Files[url]
	if !ok {
		return nil, fmt.Errorf("no file at %s", url)
	}
	return data, nil
}

// LastResponse returns the most recent Respond or FollowUp, or nil when
// nothing was answered.
func (g *Gateway) LastResponse() *Responded {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Responses) == 0 {
		return nil
	}
	return &g.Responses[len(g.Responses)-1]
}
