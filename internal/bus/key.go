package bus

import (
	"strconv"
	"strings"
)

// unsafeKeyRunes are characters substituted out of session keys so a key is
// always usable as a filename fragment on every supported platform.
const unsafeKeyRunes = `/\:*?"<>| `

// BuildSessionKey returns the canonical session key for a conversation:
// "{channel}_{chat_id}" with filesystem-unsafe characters replaced by '_'.
func BuildSessionKey(channel, chatID string) string {
	return sanitizeKeyPart(channel) + "_" + sanitizeKeyPart(chatID)
}

// SubagentSessionKey derives a child session key from a parent key.
func SubagentSessionKey(parentKey string, n int) string {
	return parentKey + "_sub_" + strconv.Itoa(n)
}

func sanitizeKeyPart(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeKeyRunes, r) {
			return '_'
		}
		return r
	}, s)
}
