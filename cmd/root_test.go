package cmd

import (
	"io"
	"os"
	"strings"
	"testing"
)

func setArgs(args ...string) func() {
	orig := os.Args
	os.Args = args
	return func() { os.Args = orig }
}

func captureStdout(f func()) (string, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old; w.Close() }()
	f()
	w.Close()
	data, _ := io.ReadAll(r)
	return string(data), nil
}

// setupTestDataDir points the store at a temp dir and disables
// embedding backends so tests never probe the network.
func setupTestDataDir(t *testing.T) {
	t.Helper()
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	t.Setenv("ENGRAM_EMBEDDINGS", "off")
}

func TestExecute_Help(t *testing.T) {
	defer setArgs("engram", "help")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(help): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Engram") {
		t.Errorf("help output should contain 'Engram': %q", out)
	}
}

func TestExecute_Version(t *testing.T) {
	defer setArgs("engram", "version")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(version): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "engram") {
		t.Errorf("version output should contain 'engram': %q", out)
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	if Version != "1.2.3" || Commit != "abc123" || Date != "2026-01-01" {
		t.Errorf("SetVersion: got Version=%q Commit=%q Date=%q", Version, Commit, Date)
	}
	// Restore for other tests
	SetVersion("dev", "none", "unknown")
}
