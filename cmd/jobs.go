package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage scheduled jobs on a running gateway",
	}
	cmd.AddCommand(jobsListCmd(), jobsAddCmd(), jobsRemoveCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			var payload protocol.JobsListPayload
			gatewayCall(protocol.MethodJobsList, nil, &payload)

			if len(payload.Jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return
			}
			for _, job := range payload.Jobs {
				when := time.Unix(int64(job.TriggerAt), 0).Format(time.RFC3339)
				if job.CronExpr != "" {
					fmt.Printf("  %s  %-20s next %s  %q\n", job.ID, job.CronExpr, when, job.Payload)
				} else {
					fmt.Printf("  %s  once at %s  %q\n", job.ID, when, job.Payload)
				}
			}
		},
	}
}

func jobsAddCmd() *cobra.Command {
	var (
		in       time.Duration
		at       string
		cronExpr string
		channel  string
		chatID   string
	)

	cmd := &cobra.Command{
		Use:   "add <payload>",
		Short: "Schedule a one-shot (--in/--at) or recurring (--cron) job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params := protocol.JobsAddParams{
				Payload: args[0],
				Channel: channel,
				ChatID:  chatID,
			}
			switch {
			case cronExpr != "":
				params.CronExpr = cronExpr
				_, offset := time.Now().Zone()
				params.TZOffsetMin = offset / 60
			case at != "":
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: bad --at value (want RFC3339): %v\n", err)
					os.Exit(1)
				}
				params.TriggerAt = float64(ts.Unix())
			case in > 0:
				params.TriggerAt = float64(time.Now().Add(in).Unix())
			default:
				fmt.Fprintln(os.Stderr, "Error: one of --in, --at, or --cron is required")
				os.Exit(1)
			}

			var payload protocol.JobsAddPayload
			gatewayCall(protocol.MethodJobsAdd, params, &payload)
			fmt.Printf("Scheduled job %s\n", payload.ID)
		},
	}
	cmd.Flags().DurationVar(&in, "in", 0, "fire once after this delay (e.g. 90s, 2h)")
	cmd.Flags().StringVar(&at, "at", "", "fire once at an RFC3339 instant")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "5-field cron expression for recurring jobs")
	cmd.Flags().StringVar(&channel, "channel", "web", "channel the payload is delivered on")
	cmd.Flags().StringVar(&chatID, "chat-id", "cli", "conversation the payload is delivered to")
	return cmd
}

func jobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var payload protocol.JobsRemovePayload
			gatewayCall(protocol.MethodJobsRemove, protocol.JobsRemoveParams{ID: args[0]}, &payload)
			if payload.Removed {
				fmt.Println("Removed.")
			} else {
				fmt.Println("No such job.")
			}
		},
	}
}

// gatewayCall dials the configured gateway, performs one request, and exits
// the process on any failure. Shared by the thin admin subcommands.
func gatewayCall(method string, params, payload interface{}) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	client, err := dialGateway(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.call(method, params, payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
