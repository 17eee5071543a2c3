package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".frontdesk", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPathsUnderHomeOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	tests := map[string]string{
		SocketPath("desk"): filepath.Join("profiles", "desk", "health.sock"),
		LockPath("desk"):   filepath.Join("profiles", "desk", "LOCK"),
		DBPath("desk"):     filepath.Join("profiles", "desk", "frontdesk.db"),
		LogPath("desk"):    filepath.Join("profiles", "desk", "logs", "frontdesk.log"),
		TokenPath("desk"):  filepath.Join("profiles", "desk", "token"),
	}
	for got, suffix := range tests {
		if !strings.HasPrefix(got, base) || !strings.HasSuffix(got, suffix) {
			t.Errorf("%q: want %s/.../%s", got, base, suffix)
		}
	}
	if ConfigPath() != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath() = %q", ConfigPath())
	}
}

func TestEnsureDirAndList(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List() on empty home = %v, %v", names, err)
	}

	for _, n := range []string{"night", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatal(err)
		}
	}
	info, err := os.Stat(LogDir("main"))
	if err != nil || !info.IsDir() {
		t.Fatalf("log dir not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
	// Stray entries are not profiles.
	if err := os.WriteFile(filepath.Join(BaseDir(), "profiles", "notes.txt"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(BaseDir(), "profiles", "Bad Name"), 0700); err != nil {
		t.Fatal(err)
	}

	names, err = List()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"main", "night"}) {
		t.Errorf("List() = %v", names)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		flag, configured, want string
	}{
		{"night", "day", "night"},
		{"", "day", "day"},
		{"", "", DefaultName},
	}
	for _, tt := range tests {
		if got := Resolve(tt.flag, tt.configured); got != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.flag, tt.configured, got, tt.want)
		}
	}
}
