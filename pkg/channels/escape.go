package channels

import (
	"strings"

	"github.com/mochibot/mochi/pkg/config"
)

var slackEntities = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// EscapeText applies platform text escaping before raw delivery. Messages
// are sent as plain text everywhere, so only platforms that interpret
// entities inside plain text need work here.
func EscapeText(platform config.AccountType, text string) string {
	switch platform {
	case config.AccountSlack:
		return slackEntities.Replace(text)
	default:
		return text
	}
}
