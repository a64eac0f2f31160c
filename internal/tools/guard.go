package tools

import (
	"fmt"
	"strings"
)

// Shell metacharacters that allow chaining, substitution, or redirection.
// The run_command tool executes a single command, not a script.
var unsafeFragments = []string{"$(", "`", ";", "&&", "||", ">", "<", "\n"}

// Substrings rejected case-insensitively: privilege escalation and
// environment-injection attempts.
var unsafeWords = []string{"sudo", "chmod", "chown", "ifs=", "pythonpath="}

// CheckCommand rejects shell input containing chaining metacharacters or
// privilege-escalation substrings unless unsafe commands were explicitly
// allowed in config.
func CheckCommand(cmd string, allowUnsafe bool) error {
	if allowUnsafe {
		return nil
	}
	for _, frag := range unsafeFragments {
		if strings.Contains(cmd, frag) {
			return fmt.Errorf("command contains blocked sequence %q", printableFragment(frag))
		}
	}
	lower := strings.ToLower(cmd)
	for _, word := range unsafeWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("command contains blocked term %q", word)
		}
	}
	return nil
}

func printableFragment(frag string) string {
	if frag == "\n" {
		return "newline"
	}
	return frag
}
