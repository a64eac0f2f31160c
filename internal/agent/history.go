package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
)

// Rough chars-per-token ratio for budget estimation. Precision doesn't
// matter; both the budget and the estimate use the same scale.
const charsPerToken = 4

func estimateTokens(m providers.Message) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments)
	}
	chars += len(m.Images) * 4000
	return chars / charsPerToken
}

func estimateHistoryTokens(history []providers.Message) int {
	total := 0
	for _, m := range history {
		total += estimateTokens(m)
	}
	return total
}

// compactHistory keeps the conversation under the token budget. The older
// two thirds get replaced by an LLM-written summary; if the summary call
// fails, oldest turns are evicted instead. Either way, tool calls and their
// results move as one unit.
func (o *Orchestrator) compactHistory(ctx context.Context, key string, history []providers.Message) []providers.Message {
	if estimateHistoryTokens(history) <= o.budget || len(history) < 6 {
		return history
	}

	start := 0
	if len(history) > 0 && history[0].Role == providers.RoleSystem {
		start = 1
	}
	cut := start + (len(history)-start)*2/3
	for cut < len(history) && history[cut].Role == providers.RoleTool {
		cut++
	}
	if cut <= start+1 || cut >= len(history) {
		evicted := evictOldest(history, start, o.budget)
		o.checkpoint(key, evicted)
		return evicted
	}

	summary, err := o.summarizeTurns(ctx, history[start:cut])
	if err != nil {
		slog.Warn("history summarization failed, evicting oldest turns", "session", key, "error", err)
		evicted := evictOldest(history, start, o.budget)
		o.checkpoint(key, evicted)
		return evicted
	}
	slog.Info("history compacted", "session", key, "summarized_turns", cut-start)

	rebuilt := make([]providers.Message, 0, len(history)-cut+start+1)
	rebuilt = append(rebuilt, history[:start]...)
	rebuilt = append(rebuilt, providers.Message{
		Role:    providers.RoleSystem,
		Content: "CONTEXT SUMMARY\n" + summary,
	})
	rebuilt = append(rebuilt, history[cut:]...)

	// A summarized history is a destructive rewrite; persist it now rather
	// than waiting for turn end.
	o.checkpoint(key, rebuilt)
	return rebuilt
}

// summarizeTurns asks the model to condense older turns. Tool results are
// omitted from the transcript; they are bulky and the assistant turns already
// carry the conclusions.
func (o *Orchestrator) summarizeTurns(ctx context.Context, msgs []providers.Message) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case providers.RoleAssistant:
			text := m.Content
			if text == "" && len(m.ToolCalls) > 0 {
				names := make([]string, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					names[i] = tc.Name
				}
				text = "[called " + strings.Join(names, ", ") + "]"
			}
			fmt.Fprintf(&b, "Assistant: %s\n", text)
		}
	}

	model := o.summaryModel
	if model == "" {
		model = o.model
	}
	resp, err := o.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "Summarize the conversation in at most 200 words. Keep key decisions, facts about the user, and the current task state."},
			{Role: providers.RoleUser, Content: b.String()},
		},
		Model:       model,
		MaxTokens:   400,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New("empty summary")
	}
	return summary, nil
}

// evictOldest drops turns from the front of the mutable region until the
// history fits the budget, always taking a tool-calling assistant turn and
// its results together. The last few turns survive regardless.
func evictOldest(history []providers.Message, start, budget int) []providers.Message {
	const keepTail = 4
	for len(history)-start > keepTail && estimateHistoryTokens(history) > budget {
		drop := start + 1
		for drop < len(history) && history[drop].Role == providers.RoleTool {
			drop++
		}
		history = append(history[:start], history[drop:]...)
	}
	for len(history) > start && history[start].Role == providers.RoleTool {
		history = append(history[:start], history[start+1:]...)
	}
	return history
}

// repairToolPairing restores the call/result discipline providers enforce:
// every tool result must follow an assistant turn that requested it, and
// every requested call must have a result. Snapshots written by older builds
// or truncated mid-batch can violate both.
func repairToolPairing(history []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(history))
	i := 0
	for i < len(history) {
		m := history[i]
		if m.Role == providers.RoleTool {
			// result with no call requesting it
			i++
			continue
		}
		if m.Role == providers.RoleAssistant && len(m.ToolCalls) > 0 {
			expect := make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				expect[tc.ID] = true
			}
			out = append(out, m)
			i++
			for i < len(history) && history[i].Role == providers.RoleTool {
				if expect[history[i].ToolCallID] {
					out = append(out, history[i])
					delete(expect, history[i].ToolCallID)
				}
				i++
			}
			for _, tc := range m.ToolCalls {
				if expect[tc.ID] {
					out = append(out, providers.Message{
						Role:       providers.RoleTool,
						Content:    "[tool result lost during compaction]",
						ToolCallID: tc.ID,
						ToolName:   tc.Name,
					})
				}
			}
			continue
		}
		out = append(out, m)
		i++
	}
	return out
}
