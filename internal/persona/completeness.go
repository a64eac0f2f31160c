package persona

import (
	"regexp"
	"strings"
)

// Keywords that indicate a soul file actually describes a persona rather
// than holding placeholder text.
var soulKeywords = []string{
	"core", "truth", "value", "boundary", "personality",
	"who", "believe", "important",
}

var (
	identityNameRe  = regexp.MustCompile(`(?i)\bname\b\s*[:=]`)
	identityStyleRe = regexp.MustCompile(`(?i)\bstyle\b\s*[:=]`)
)

// SoulComplete reports whether the soul content passes the completeness
// check: at least 100 characters and at least one persona keyword.
func SoulComplete(soul string) bool {
	if len(soul) < 100 {
		return false
	}
	lowered := strings.ToLower(soul)
	for _, kw := range soulKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// IdentityComplete reports whether the identity content declares Name and
// Style fields and is at least 50 characters.
func IdentityComplete(identity string) bool {
	if len(identity) < 50 {
		return false
	}
	return identityNameRe.MatchString(identity) && identityStyleRe.MatchString(identity)
}

// Complete reports whether the persona is initialized enough to run in
// normal mode. An incomplete persona switches the prompt into the setup
// interview.
func (s *Store) Complete() bool {
	return SoulComplete(s.Soul()) && IdentityComplete(s.Identity())
}
