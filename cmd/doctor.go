package cmd

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/skills"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/tools"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("limebot doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Provider credentials
	providerCfg := cfg.Provider(cfg.Agent.Provider)
	fmt.Printf("  Provider: %s (model %s)", cfg.Agent.Provider, cfg.Agent.Model)
	if providerCfg.APIKey == "" && cfg.Agent.Provider != "ollama" {
		fmt.Printf(" — MISSING API KEY (set LIMEBOT_%s)\n", envKeySuffix(cfg.Agent.Provider))
	} else {
		fmt.Println(" (OK)")
	}

	// Persona
	fmt.Printf("  Persona:  %s", cfg.PersonaDir())
	if store, err := persona.NewStore(cfg.PersonaDir()); err != nil {
		fmt.Printf(" (UNREADABLE: %s)\n", err)
	} else if store.Complete() {
		fmt.Println(" (complete)")
	} else {
		fmt.Println(" (incomplete — run: limebot onboard)")
	}

	// Data dir writability
	fmt.Printf("  Data:     %s", cfg.DataDir())
	if err := checkWritable(cfg.DataDir()); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	// Skills: load manifests into a throwaway registry, report missing binaries.
	skillMgr := skills.NewManager(cfg.SkillsDir(), tools.NewRegistry())
	if err := skillMgr.Load(); err != nil {
		fmt.Printf("  Skills:   load error (%s)\n", err)
	} else {
		statuses := skillMgr.List()
		missing := 0
		for _, s := range statuses {
			if s.MissingBinary != "" {
				missing++
			}
		}
		fmt.Printf("  Skills:   %d loaded", len(statuses))
		if missing > 0 {
			fmt.Printf(", %d with missing binaries:\n", missing)
			for _, s := range statuses {
				if s.MissingBinary != "" {
					fmt.Printf("    %-20s needs %q on PATH\n", s.Name, s.MissingBinary)
				}
			}
		} else {
			fmt.Println()
		}
	}

	// Gateway reachability
	healthURL := fmt.Sprintf("http://%s:%d/health", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("  Gateway:  %s", healthURL)
	httpClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := httpClient.Get(healthURL); err != nil {
		fmt.Println(" (not running)")
	} else {
		resp.Body.Close()
		fmt.Printf(" (running, %s)\n", resp.Status)
	}
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	probe.Close()
	return os.Remove(probe.Name())
}
