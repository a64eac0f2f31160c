package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/memory"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
)

// tagSink applies tag side effects for one conversation: persona writes go
// to the workspace store, memory lines additionally feed the search index,
// and send/embed directives go back out on the originating channel.
type tagSink struct {
	store   *persona.Store
	index   *memory.Index
	router  bus.MessageRouter
	channel string
	chatID  string
}

func (t *tagSink) SaveSoul(ctx context.Context, content string) error {
	return t.store.Write(persona.SoulFile, content)
}

func (t *tagSink) SaveIdentity(ctx context.Context, content string) error {
	return t.store.Write(persona.IdentityFile, content)
}

func (t *tagSink) SaveMood(ctx context.Context, content string) error {
	return t.store.Write(persona.MoodFile, content)
}

func (t *tagSink) SaveRelationships(ctx context.Context, content string) error {
	return t.store.Write(persona.RelationshipsFile, content)
}

func (t *tagSink) SaveUser(ctx context.Context, senderID, content string) error {
	return t.store.WriteUserProfile(senderID, content)
}

func (t *tagSink) SaveMemoryIndex(ctx context.Context, content string) error {
	return t.store.Write(persona.MemoryIndexFile, content)
}

// LogMemory appends to today's memory file and mirrors the line into the
// search index. The file is the source of truth; an index failure is logged
// and absorbed so the memory is never lost to a search-side problem.
func (t *tagSink) LogMemory(ctx context.Context, content string) error {
	day, err := t.store.AppendDailyMemory(content)
	if err != nil {
		return err
	}
	if t.index != nil {
		if err := t.index.Append(ctx, day, content); err != nil {
			slog.Warn("memory index append failed", "day", day, "error", err)
		}
	}
	return nil
}

func (t *tagSink) DiscordSend(ctx context.Context, text string) error {
	return t.send(ctx, bus.TypeMessage, text)
}

func (t *tagSink) DiscordEmbed(ctx context.Context, embedJSON string) error {
	return t.send(ctx, bus.TypeEmbed, embedJSON)
}

func (t *tagSink) send(ctx context.Context, typ, content string) error {
	if t.router == nil {
		return nil
	}
	err := t.router.PublishOutbound(outboundCtx(ctx), bus.OutboundMessage{
		Channel: t.channel,
		ChatID:  t.chatID,
		Content: content,
		Metadata: map[string]string{
			"type": typ,
		},
	})
	if errors.Is(err, bus.ErrNoSink) {
		return nil
	}
	return err
}
