package chat

// Member describes the caller's guild membership at the time of the event.
type Member struct {
	UserID  string
	RoleIDs []string
	IsAdmin bool
}

// SlashCommand is a typed command invocation from the chat platform.
type SlashCommand struct {
	InteractionID string
	UserID        string
	DisplayName   string
	ChannelID     string
	CategoryID    string
	Member        Member
	Command       string
	Args          map[string]string
}

// ComponentClick is a button press or select-menu choice. CustomID carries
// the routing key the component was created with; Values holds select-menu
// selections.
type ComponentClick struct {
	InteractionID string
	UserID        string
	DisplayName   string
	ChannelID     string
	Member        Member
	CustomID      string
	Values        []string
}

// ModalSubmit is a completed form. Fields are keyed by the input keys the
// form was built with.
type ModalSubmit struct {
	InteractionID string
	UserID        string
	DisplayName   string
	ChannelID     string
	Member        Member
	CustomID      string
	Fields        map[string]string
}

// Attachment is one uploaded file on a message.
type Attachment struct {
	Name string
	URL  string
	Size int64
}

// AttachmentMessage is a plain message carrying at least one file.
type AttachmentMessage struct {
	MessageID   string
	UserID      string
	DisplayName string
	ChannelID   string
	Attachments []Attachment
}
