package tags

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const minSoulLength = 20

var identityNameRe = regexp.MustCompile(`(?i)\bname\b\s*[:=]`)

// Fragments that mean the model echoed the tag instructions instead of
// producing real content. Matched case-insensitively.
var forbiddenFragments = []string{
	"full new soul.md content",
	"full new identity.md content",
	"what you learned about this user",
	"a fact worth remembering",
	"curated memory.md content",
	"updated relationships.md content",
	"at least a paragraph describing your core",
	"your core self-description",
	"placeholder",
	"lorem ipsum",
}

var errEmptyBody = errors.New("empty tag body")

func validate(name, body string) error {
	if body == "" {
		return errEmptyBody
	}
	lower := strings.ToLower(body)
	for _, frag := range forbiddenFragments {
		if strings.Contains(lower, frag) {
			return fmt.Errorf("instruction echo %q", frag)
		}
	}

	switch name {
	case "save_soul":
		if len(body) < minSoulLength {
			return fmt.Errorf("soul content too short (%d chars)", len(body))
		}
	case "save_identity":
		if !identityNameRe.MatchString(body) {
			return errors.New("identity missing a Name field")
		}
	case "discord_embed":
		var obj map[string]any
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return fmt.Errorf("embed is not a JSON object: %w", err)
		}
	}
	return nil
}
