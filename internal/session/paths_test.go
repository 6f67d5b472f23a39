package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("WPPCRM_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".wppcrm", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestBaseDirOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("WPPCRM_HOME", tmp)
	if got := BaseDir(); got != tmp {
		t.Errorf("BaseDir() = %q, want %q", got, tmp)
	}
	if got := ConfigPath(); got != filepath.Join(tmp, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestPathsLiveUnderSession(t *testing.T) {
	t.Setenv("WPPCRM_HOME", t.TempDir())
	for name, got := range map[string]string{
		"device": DeviceDir("test"),
		"db":     AppDBPath("test"),
		"log":    LogPath("test"),
	} {
		if !strings.HasPrefix(got, Dir("test")+string(filepath.Separator)) {
			t.Errorf("%s path %q is outside the session dir", name, got)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("WPPCRM_HOME", t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("test"), DeviceDir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s: mode %v", d, info.Mode())
		}
	}
}
