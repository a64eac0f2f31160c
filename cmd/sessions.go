package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and delete conversations on a running gateway",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		Run: func(cmd *cobra.Command, args []string) {
			var payload protocol.SessionsListPayload
			gatewayCall(protocol.MethodSessionsList, nil, &payload)

			if len(payload.Sessions) == 0 {
				fmt.Println("No sessions.")
				return
			}
			for _, s := range payload.Sessions {
				fmt.Printf("  %-32s last active %s  %d tokens\n",
					s.Key, s.LastActive.Format("2006-01-02 15:04"), s.TotalTokens)
			}
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "Delete sessions and their history",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var payload protocol.SessionsDeletePayload
			gatewayCall(protocol.MethodSessionsDelete, protocol.SessionsDeleteParams{Keys: args}, &payload)
			fmt.Printf("Deleted %d session(s).\n", payload.Deleted)
		},
	}
}
