package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

const chatStatusWidth = 100

func chatCmd() *cobra.Command {
	var message string
	var chatID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running gateway over WebSocket",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(message, chatID)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	cmd.Flags().StringVar(&chatID, "chat-id", "cli", "conversation id within the web channel")
	return cmd
}

func runChat(message, chatID string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client, err := dialGateway(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Is the gateway running? Start it with: limebot gateway")
		os.Exit(1)
	}
	defer client.Close()

	if message != "" {
		if err := chatTurn(client, chatID, message); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "LimeBot chat (model: %s)\n", cfg.Agent.Model)
	fmt.Fprintln(os.Stderr, `Type "exit" to quit, "/cancel" to stop the current turn.`)
	fmt.Fprintln(os.Stderr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}
		if err := chatCommand(client, chatID, input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		}
	}
}

// chatCommand routes slash commands; everything else is a chat turn.
func chatCommand(client *gatewayClient, chatID, input string) error {
	switch {
	case input == "/cancel":
		var payload protocol.CancelPayload
		err := client.call(protocol.MethodCancel, protocol.CancelParams{
			SessionKey: "web_" + chatID,
		}, &payload)
		if err != nil {
			return err
		}
		if !payload.Cancelled {
			fmt.Fprintln(os.Stderr, "Nothing in flight.")
		}
		return nil

	case strings.HasPrefix(input, "/approve ") || strings.HasPrefix(input, "/deny "):
		approve := strings.HasPrefix(input, "/approve ")
		id := strings.TrimSpace(input[strings.Index(input, " ")+1:])
		var payload protocol.ConfirmPayload
		err := client.call(protocol.MethodConfirm, protocol.ConfirmParams{ID: id, Approve: approve}, &payload)
		if err != nil {
			return err
		}
		if !payload.Resolved {
			fmt.Fprintln(os.Stderr, "No such pending confirmation.")
		}
		return nil

	default:
		return chatTurn(client, chatID, input)
	}
}

// chatTurn sends one message and renders the event stream until the final
// reply (or a cancellation) for this conversation arrives.
func chatTurn(client *gatewayClient, chatID, content string) error {
	var ack protocol.ChatSendPayload
	err := client.call(protocol.MethodChatSend, protocol.ChatSendParams{
		Content: content,
		ChatID:  chatID,
	}, &ack)
	if err != nil {
		return err
	}

	streamed := false
	for {
		frame, err := client.next()
		if err != nil {
			return err
		}
		msg, ok := decodeChat(frame)
		if !ok || msg.ChatID != chatID {
			continue
		}

		switch msg.Type() {
		case "chunk":
			streamed = true
			fmt.Print(msg.Content)

		case "tool_execution":
			line := fmt.Sprintf("  [%s %s] %s", msg.Metadata["tool"], msg.Metadata["status"], msg.Content)
			if confID := msg.Metadata["conf_id"]; confID != "" && msg.Metadata["status"] == "waiting_confirmation" {
				line += fmt.Sprintf("  (/approve %s or /deny %s)", confID, confID)
			}
			fmt.Fprintln(os.Stderr, runewidth.Truncate(line, chatStatusWidth, "…"))

		case "activity", "thinking":
			fmt.Fprintln(os.Stderr, runewidth.Truncate("  · "+msg.Content, chatStatusWidth, "…"))

		case "message":
			if streamed {
				fmt.Println()
			} else if msg.Content != "" {
				fmt.Printf("\n%s\n", msg.Content)
			}
			fmt.Println()
			return nil

		case "cancellation", "rate_limit_error":
			fmt.Fprintf(os.Stderr, "\n%s\n\n", msg.Content)
			return nil
		}
	}
}
