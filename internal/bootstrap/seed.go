// Package bootstrap lays out the on-disk tree on first run: the persona
// directory with placeholder SOUL.md and IDENTITY.md, the session store,
// the data and skills directories, and the tool workspace. Seeding never
// overwrites, so a populated install passes through untouched.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/config"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/persona"
)

//go:embed templates/*.md
var templateFS embed.FS

// Persona templates seeded into a fresh install. The placeholders are
// deliberately too thin to pass the completeness check, which routes the
// first conversation into the setup interview.
var personaTemplates = []string{
	persona.SoulFile,
	persona.IdentityFile,
}

// Result reports what a seeding pass created. Empty slices mean the
// install was already laid out.
type Result struct {
	Dirs  []string
	Files []string
}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Run ensures the directory layout for cfg exists and seeds persona
// placeholders where no persona files are present yet.
func Run(cfg *config.Config) (Result, error) {
	var res Result

	personaDir := cfg.PersonaDir()
	sessionsDir := cfg.SessionsDir()
	dirs := []string{
		personaDir,
		filepath.Join(personaDir, "memory"),
		filepath.Join(personaDir, "users"),
		sessionsDir,
		filepath.Join(sessionsDir, "logs"),
		filepath.Join(sessionsDir, "history"),
		cfg.DataDir(),
		cfg.SkillsDir(),
		cfg.WorkspacePath(),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return res, err
		}
		res.Dirs = append(res.Dirs, dir)
	}

	for _, name := range personaTemplates {
		ok, err := seedTemplate(personaDir, name)
		if err != nil {
			slog.Warn("seed template", "file", name, "error", err)
			continue
		}
		if ok {
			res.Files = append(res.Files, filepath.Join(personaDir, name))
		}
	}

	if len(res.Dirs) > 0 || len(res.Files) > 0 {
		slog.Info("first-run layout seeded", "dirs", len(res.Dirs), "files", len(res.Files))
	}
	return res, nil
}

// seedTemplate writes one embedded template into dir unless the file
// already exists. O_EXCL keeps a concurrent second writer from clobbering.
func seedTemplate(dir, name string) (bool, error) {
	dst := filepath.Join(dir, name)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
