package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePathStaysInsideWorkspace(t *testing.T) {
	ws := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative file", "notes.md", false},
		{"nested relative", "a/b/c.txt", false},
		{"dot", ".", false},
		{"parent escape", "../outside.txt", true},
		{"deep parent escape", "../../../etc/passwd", true},
		{"absolute outside", "/etc/passwd", true},
		{"sneaky traversal", "a/../../outside", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolvePath(tt.path, ws)
			if tt.wantErr && err == nil {
				t.Errorf("resolvePath(%q) succeeded, want denial", tt.path)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("resolvePath(%q) = %v, want success", tt.path, err)
			}
		})
	}
}

func TestResolvePathRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(target, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(ws, "innocent.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := resolvePath("innocent.txt", ws); err == nil {
		t.Error("symlink pointing outside the workspace was not rejected")
	}
}

func TestResolvePathRejectsDanglingSymlink(t *testing.T) {
	ws := t.TempDir()
	link := filepath.Join(ws, "dangling")
	if err := os.Symlink(filepath.Join(ws, "missing-target"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := resolvePath("dangling", ws); err == nil {
		t.Error("dangling symlink resolved without error")
	}
}

func TestResolvePathAllowsNewFiles(t *testing.T) {
	ws := t.TempDir()
	wsReal, err := filepath.EvalSymlinks(ws)
	if err != nil {
		t.Fatal(err)
	}
	resolved, err := resolvePath("new/dir/file.txt", ws)
	if err != nil {
		t.Fatalf("resolvePath for a not-yet-existing file failed: %v", err)
	}
	if !strings.HasPrefix(resolved, wsReal) {
		t.Errorf("resolved path %q escaped workspace %q", resolved, wsReal)
	}
}

func TestFileToolsRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws)
	res := write.Execute(ctx, map[string]interface{}{"path": "a/b/notes.md", "content": "hello world"})
	if res.IsError {
		t.Fatalf("write failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Wrote 11 bytes") {
		t.Errorf("write result = %q", res.ForLLM)
	}

	read := NewReadFileTool(ws)
	res = read.Execute(ctx, map[string]interface{}{"path": "a/b/notes.md"})
	if res.IsError || res.ForLLM != "hello world" {
		t.Errorf("read = %+v, want hello world", res)
	}

	del := NewDeleteFileTool(ws)
	res = del.Execute(ctx, map[string]interface{}{"path": "a/b/notes.md"})
	if res.IsError {
		t.Fatalf("delete failed: %s", res.ForLLM)
	}

	res = read.Execute(ctx, map[string]interface{}{"path": "a/b/notes.md"})
	if !res.IsError {
		t.Error("reading a deleted file should fail")
	}
}

func TestFileToolsRejectEscapes(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	for name, tool := range map[string]Tool{
		"read_file":   NewReadFileTool(ws),
		"write_file":  NewWriteFileTool(ws),
		"delete_file": NewDeleteFileTool(ws),
		"list_dir":    NewListDirTool(ws),
	} {
		res := tool.Execute(ctx, map[string]interface{}{"path": "../../etc", "content": "x"})
		if !res.IsError {
			t.Errorf("%s accepted an escaping path", name)
		}
		if !strings.Contains(res.ForLLM, "access denied") {
			t.Errorf("%s error = %q, want access denied", name, res.ForLLM)
		}
	}
}

func TestFileToolsRequirePath(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()
	for name, tool := range map[string]Tool{
		"read_file":   NewReadFileTool(ws),
		"write_file":  NewWriteFileTool(ws),
		"delete_file": NewDeleteFileTool(ws),
	} {
		res := tool.Execute(ctx, map[string]interface{}{})
		if !res.IsError {
			t.Errorf("%s accepted empty args", name)
		}
	}
}

func TestListDir(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(ws, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "b.txt"), []byte("bb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	list := NewListDirTool(ws)
	res := list.Execute(ctx, map[string]interface{}{})
	if res.IsError {
		t.Fatalf("list failed: %s", res.ForLLM)
	}

	lines := strings.Split(res.ForLLM, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), res.ForLLM)
	}
	if lines[0] != "a.txt (1 bytes)" || lines[1] != "b.txt (2 bytes)" || lines[2] != "sub/" {
		t.Errorf("listing = %q, want sorted entries with dir suffix", res.ForLLM)
	}
}

func TestListDirEmpty(t *testing.T) {
	ws := t.TempDir()
	list := NewListDirTool(ws)
	res := list.Execute(context.Background(), map[string]interface{}{})
	if res.ForLLM != "(empty directory)" {
		t.Errorf("empty listing = %q", res.ForLLM)
	}
}
