package tools

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// CanonicalizeArgs parses a raw tool-argument string into the map handed to
// the tool and a canonical JSON form used as the cache key. Marshaling a
// map sorts keys at every level, so two argument strings that differ only
// in key order or whitespace canonicalize identically.
//
// Model quirks are repaired rather than failed: some backends emit "{}{}"
// for empty arguments, and some emit plain garbage. Tools must accept empty
// args, so parse failures degrade to {} with a warning instead of aborting
// the call.
func CanonicalizeArgs(toolName, raw string) (map[string]interface{}, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}{}" {
		raw = "{}"
	}

	args := make(map[string]interface{})
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		slog.Warn("unparseable tool arguments, substituting empty object",
			"tool", toolName, "args", truncateStr(raw, 200), "error", err)
		return map[string]interface{}{}, "{}"
	}

	canonical, err := json.Marshal(args)
	if err != nil {
		return args, "{}"
	}
	return args, string(canonical)
}
