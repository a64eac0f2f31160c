package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
)

func testConfig(root string) *config.Config {
	cfg := &config.Config{}
	cfg.Persona.Dir = filepath.Join(root, "persona")
	cfg.Data.Dir = filepath.Join(root, "data")
	cfg.Agent.Workspace = filepath.Join(root, "workspace")
	return cfg
}

func TestRunSeedsFreshInstall(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)

	res, err := Run(cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Dirs) == 0 || len(res.Files) != 2 {
		t.Fatalf("unexpected seed result: %+v", res)
	}

	for _, dir := range []string{
		filepath.Join(root, "persona", "memory"),
		filepath.Join(root, "persona", "users"),
		filepath.Join(root, "persona", "sessions", "logs"),
		filepath.Join(root, "persona", "sessions", "history"),
		filepath.Join(root, "data", "skills"),
		filepath.Join(root, "workspace"),
	} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing directory %s", dir)
		}
	}

	soul, err := os.ReadFile(filepath.Join(root, "persona", persona.SoulFile))
	if err != nil {
		t.Fatalf("SOUL.md not seeded: %v", err)
	}
	if !strings.Contains(string(soul), "# Soul") {
		t.Fatalf("unexpected soul placeholder: %q", soul)
	}
}

func TestPlaceholdersStayIncomplete(t *testing.T) {
	root := t.TempDir()
	if _, err := Run(testConfig(root)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	store, err := persona.NewStore(filepath.Join(root, "persona"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store.Complete() {
		t.Fatal("seeded placeholders must not count as a complete persona")
	}
}

func TestRunNeverOverwrites(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)

	personaDir := filepath.Join(root, "persona")
	if err := os.MkdirAll(personaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	custom := "# Soul\n\nA carefully tuned persona that must survive reseeding."
	if err := os.WriteFile(filepath.Join(personaDir, persona.SoulFile), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Run(cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(personaDir, persona.SoulFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != custom {
		t.Fatal("existing persona file was overwritten")
	}

	// Second pass over a seeded tree creates nothing.
	res, err := Run(cfg)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(res.Dirs) != 0 || len(res.Files) != 0 {
		t.Fatalf("reseed should be a no-op, got %+v", res)
	}
}

func TestReadTemplate(t *testing.T) {
	content, err := ReadTemplate(persona.IdentityFile)
	if err != nil {
		t.Fatalf("ReadTemplate: %v", err)
	}
	if !strings.Contains(content, "# Identity") {
		t.Fatalf("unexpected identity template: %q", content)
	}
	if _, err := ReadTemplate("NOPE.md"); err == nil {
		t.Fatal("unknown template should error")
	}
}
