package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bootstrap"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive persona setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := bootstrap.Run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store, err := persona.NewStore(cfg.PersonaDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if store.Complete() {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title("A persona already exists. Overwrite it?").
			Value(&overwrite)
		if err := confirm.Run(); err != nil || !overwrite {
			fmt.Println("Keeping the existing persona.")
			return
		}
	}

	var (
		name  string
		style string
		soul  string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("What is this persona called?").
				Validate(notEmpty).
				Value(&name),
			huh.NewInput().
				Title("Speaking style").
				Description("One line: tone, length, quirks (e.g. \"dry, terse, no emoji\")").
				Validate(notEmpty).
				Value(&style),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Soul").
				Description("Who is this persona at the core? Values, boundaries, what it believes matters. A paragraph or two.").
				CharLimit(4000).
				Validate(notEmpty).
				Value(&soul),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Cancelled: %v\n", err)
		os.Exit(1)
	}

	identity := fmt.Sprintf("# Identity\n\nName: %s\nStyle: %s\n", strings.TrimSpace(name), strings.TrimSpace(style))
	soulDoc := fmt.Sprintf("# Soul\n\n%s\n", strings.TrimSpace(soul))

	if err := store.Write(persona.IdentityFile, identity); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing identity: %v\n", err)
		os.Exit(1)
	}
	if err := store.Write(persona.SoulFile, soulDoc); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing soul: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nPersona written to %s\n", cfg.PersonaDir())
	if store.Complete() {
		fmt.Println("Completeness check: passed. Start chatting with: limebot gateway")
	} else {
		fmt.Println("Completeness check: not yet passed — the agent will run its setup interview.")
		if !persona.SoulComplete(store.Soul()) {
			fmt.Println("  The soul needs at least 100 characters about values, boundaries, or personality.")
		}
	}
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("required")
	}
	return nil
}
