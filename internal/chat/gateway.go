// Package chat abstracts the team chat platform behind typed events and a
// Gateway interface. The bot never touches the platform SDK directly:
// inbound traffic arrives as one of the event variants in events.go and is
// routed by the Dispatcher; outbound traffic goes through a Gateway.
package chat

import "context"

// Gateway is the outbound capability surface of the chat platform.
//
// Respond must be called within the platform's acknowledgement deadline;
// handlers that need to do slow work call Defer first and deliver the
// result with FollowUp.
type Gateway interface {
	// SendMessage posts to a channel and returns the new message id.
	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)

	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error

	// Respond answers an interaction directly.
	Respond(ctx context.Context, interactionID string, msg Message) error

	// Defer acknowledges an interaction so a FollowUp can arrive later.
	Defer(ctx context.Context, interactionID string, ephemeral bool) error

	// FollowUp delivers the deferred answer to an interaction.
	FollowUp(ctx context.Context, interactionID string, msg Message) error

	// OpenForm presents a modal form in answer to an interaction.
	OpenForm(ctx context.Context, interactionID string, form Form) error

	// ResolveUser finds a guild member by display name or handle. The
	// boolean reports whether a match was found; an error means the lookup
	// itself failed.
	ResolveUser(ctx context.Context, guildID, name string) (UserRef, bool, error)

	// Download fetches an attachment's bytes from its platform URL.
	Download(ctx context.Context, url string) ([]byte, error)
}
