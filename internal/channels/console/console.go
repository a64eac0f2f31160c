// Package console implements the in-terminal transport: stdin lines become
// inbound messages, outbound traffic renders to stdout.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/channels"
)

const (
	// ChatID keys every console conversation; one terminal, one session.
	ChatID = "local"

	defaultSenderID = "operator"
	statusWidth     = 100
	maxLineBytes    = 1 << 20
)

// Console reads operator input line by line and renders the reply stream
// inline. Status traffic (typing, tool activity, notifications) renders as
// prefixed single lines trimmed to the terminal-ish width.
type Console struct {
	*channels.BaseChannel
	senderID string
	in       io.Reader
	out      io.Writer

	mu       sync.Mutex
	typing   bool // typing indicator already shown this turn
	thinking bool // reasoning notice already shown this turn
	streamed bool // chunk text is on screen for the open turn
	midLine  bool // cursor sits mid-line
}

// New wires the console to the process terminal.
func New(router bus.MessageRouter, senderID string) *Console {
	return NewWithIO(router, senderID, os.Stdin, os.Stdout)
}

// NewWithIO is New with explicit streams.
func NewWithIO(router bus.MessageRouter, senderID string, in io.Reader, out io.Writer) *Console {
	if senderID == "" {
		senderID = defaultSenderID
	}
	return &Console{
		BaseChannel: channels.NewBaseChannel("console", router, nil),
		senderID:    senderID,
		in:          in,
		out:         out,
	}
}

// Start begins the read loop. The loop ends when the input stream closes or
// ctx is cancelled; stdin itself has no portable interrupt, so shutdown
// relies on the process exiting.
func (c *Console) Start(ctx context.Context) error {
	c.SetRunning(true)
	c.prompt()
	go c.readLoop(ctx)
	return nil
}

func (c *Console) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *Console) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil || !c.IsRunning() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}
		if err := c.HandleMessage(ctx, c.senderID, ChatID, line, nil, nil); err != nil {
			fmt.Fprintf(c.out, "! send failed: %v\n", err)
			c.prompt()
		}
	}
}

// Send renders one outbound message. Chunk text prints inline as it
// arrives; the closing message event terminates the line instead of
// repeating text that is already on screen.
func (c *Console) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type() {
	case bus.TypeChunk:
		c.streamed = true
		fmt.Fprint(c.out, msg.Content)
		c.midLine = !strings.HasSuffix(msg.Content, "\n")

	case bus.TypeMessage:
		if c.streamed {
			c.breakLine()
			fmt.Fprintln(c.out)
		} else if msg.Content != "" {
			fmt.Fprintf(c.out, "%s\n\n", msg.Content)
		}
		c.endTurn()

	case bus.TypeTyping:
		if !c.typing && !c.streamed {
			c.typing = true
			c.statusLine("…")
		}

	case bus.TypeStopTyping:
		c.typing = false

	case bus.TypeThinking:
		if !c.thinking {
			c.thinking = true
			c.statusLine("· thinking…")
		}

	case bus.TypeToolExecution:
		line := fmt.Sprintf("[%s %s] %s", msg.Metadata["tool"], msg.Metadata["status"], msg.Content)
		c.statusLine(line)

	case bus.TypeActivity:
		c.statusLine("· " + msg.Content)

	case bus.TypeNotification, bus.TypeRateLimitError:
		c.statusLine("! " + msg.Content)

	case bus.TypeWhatsAppQR, bus.TypeWhatsAppStatus:
		c.statusLine("[pairing] " + msg.Content)

	case bus.TypeCancellation:
		c.breakLine()
		fmt.Fprintf(c.out, "%s\n\n", msg.Content)
		c.endTurn()

	case bus.TypeEmbed:
		c.breakLine()
		fmt.Fprintf(c.out, "%s\n", renderEmbed(msg.Content))

	case bus.TypeFile:
		for _, att := range msg.Media {
			c.statusLine("[file] " + att.URL)
		}

	default:
		// Unknown types render as plain text.
		c.breakLine()
		fmt.Fprintf(c.out, "%s\n", msg.Content)
	}
	return nil
}

// statusLine prints a width-trimmed line of its own.
func (c *Console) statusLine(s string) {
	c.breakLine()
	fmt.Fprintln(c.out, runewidth.Truncate(s, statusWidth, "…"))
}

// breakLine terminates any streamed text left mid-line.
func (c *Console) breakLine() {
	if c.midLine {
		fmt.Fprintln(c.out)
		c.midLine = false
	}
}

func (c *Console) endTurn() {
	c.typing = false
	c.thinking = false
	c.streamed = false
	c.midLine = false
	c.prompt()
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "> ")
}

// renderEmbed extracts title/description from an embed JSON payload,
// falling back to the raw text.
func renderEmbed(embedJSON string) string {
	var embed struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(embedJSON), &embed); err != nil || (embed.Title == "" && embed.Description == "") {
		return embedJSON
	}
	if embed.Title == "" {
		return embed.Description
	}
	if embed.Description == "" {
		return "— " + embed.Title + " —"
	}
	return fmt.Sprintf("— %s —\n%s", embed.Title, embed.Description)
}
