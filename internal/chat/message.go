package chat

// Embed colors used across the bot's confirmations and alerts.
const (
	ColorSuccess = 0x2ecc71
	ColorError   = 0xe74c3c
	ColorWarning = 0xf39c12
	ColorInfo    = 0x3498db
)

// ButtonStyle selects the platform rendering of a button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// EmbedField is one name/value pair inside an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message card.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// Button is an interactive component. CustomID is the routing key delivered
// back in the ComponentClick when pressed.
type Button struct {
	Label    string
	CustomID string
	Style    ButtonStyle
	Disabled bool
}

// SelectOption is one entry of a select menu.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// SelectMenu is a single-choice menu component.
type SelectMenu struct {
	CustomID    string
	Placeholder string
	Options     []SelectOption
}

// Message is an outbound chat message. Ephemeral messages are visible only
// to the interaction's caller.
type Message struct {
	Content   string
	Embeds    []Embed
	Buttons   []Button
	Select    *SelectMenu
	Ephemeral bool
}

// FormInput is one text input of a modal form.
type FormInput struct {
	Key         string
	Label       string
	Placeholder string
	Required    bool
	Paragraph   bool
}

// Form is a modal dialog. CustomID is delivered back in the ModalSubmit.
type Form struct {
	CustomID string
	Title    string
	Inputs   []FormInput
}

// UserRef identifies a resolved platform user.
type UserRef struct {
	ID          string
	DisplayName string
}

// Mention renders the platform mention syntax for the user.
func (u UserRef) Mention() string { return "<@" + u.ID + ">" }

// Ephemeral builds an ephemeral text message. Most refusals use this.
func Ephemeral(content string) Message {
	return Message{Content: content, Ephemeral: true}
}
