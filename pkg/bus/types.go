package bus

// InboundMessage is the uniform event an adapter emits for every message it
// receives, regardless of platform wire format.
type InboundMessage struct {
	Platform string   `json:"platform"`           // adapter type: telegram, slack, ...
	Account  string   `json:"account"`            // configured account label
	BotID    string   `json:"bot_id"`             // resolved bot identity on the platform
	UserID   string   `json:"user_id"`            // end-user identity
	ChatID   string   `json:"chat_id"`            // conversation/channel to reply into
	GroupID  string   `json:"group_id,omitempty"` // set for group/guild messages
	Text     string   `json:"text"`
	Media    []string `json:"media,omitempty"` // opaque media references

	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsDirect reports whether the message arrived in a one-on-one conversation.
// Group context disqualifies it, with one platform quirk: Slack direct
// channels carry no group marker but are identified by their "D" prefix.
func (m InboundMessage) IsDirect() bool {
	if m.GroupID != "" {
		return false
	}
	if m.Platform == "slack" {
		return len(m.ChatID) > 0 && m.ChatID[0] == 'D'
	}
	return true
}

// OutboundMessage is a reply handed to an adapter for delivery.
type OutboundMessage struct {
	Platform   string `json:"platform"`
	Account    string `json:"account"`
	SessionKey string `json:"session_key,omitempty"`
	ChatID     string `json:"chat_id"`
	Text       string `json:"text"`
}

// SystemEvent is a typed event flowing through the bus for observability.
// Used for session lifecycle, bot health, and log mirroring.
type SystemEvent struct {
	Type   string      `json:"type"`   // e.g. "session.started", "bot.status"
	Source string      `json:"source"` // e.g. "router", "channels"
	Data   interface{} `json:"data"`
}
