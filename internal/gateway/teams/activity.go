package teams

// Bot Framework activity types, reduced to the fields the gateway reads and
// writes. The protocol is JSON over HTTPS; unknown fields are ignored on
// input and omitted on output.

// Activity is one Bot Framework message in either direction.
type Activity struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	Text         string               `json:"text,omitempty"`
	TextFormat   string               `json:"textFormat,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	From         ChannelAccount       `json:"from,omitempty"`
	Recipient    ChannelAccount       `json:"recipient,omitempty"`
	Conversation ConversationAccount  `json:"conversation,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	MembersAdded []ChannelAccount     `json:"membersAdded,omitempty"`
	Value        map[string]any       `json:"value,omitempty"`
	Attachments  []Attachment         `json:"attachments,omitempty"`
}

// ChannelAccount identifies a user or bot on the channel.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ConversationAccount identifies the conversation thread.
type ConversationAccount struct {
	ID string `json:"id,omitempty"`
}

// Attachment carries rich content alongside an activity.
type Attachment struct {
	ContentType string `json:"contentType"`
	Content     any    `json:"content"`
}

const heroCardContentType = "application/vnd.microsoft.card.hero"

// HeroCard is the card type used for quick actions: Markdown text plus
// messageBack buttons whose value is echoed in the next activity.
type HeroCard struct {
	Text    string       `json:"text,omitempty"`
	Buttons []CardAction `json:"buttons,omitempty"`
}

// CardAction is one button on a card.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Text  string `json:"text,omitempty"`
	Value any    `json:"value,omitempty"`
}

const actionTypeMessageBack = "messageBack"
