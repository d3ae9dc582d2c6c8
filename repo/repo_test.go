package repo

import (
	"path/filepath"
	"testing"
)

func TestConfigDefaultsWhenMissing(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg, err := r.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg != (Config{}) {
		t.Fatalf("expected zero-value config, got %+v", cfg)
	}
}

func TestWriteConfigThenReadBack(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := Config{IPv4Addr: "0.0.0.0:0", Discovery: "hybrid", DNSOrigin: "example.test"}
	if err := r.WriteConfig(want); err != nil {
		t.Fatalf("write config: %v", err)
	}
	got, err := r.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestListenKeyIsStableAcrossCalls(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	first, err := r.ListenKey()
	if err != nil {
		t.Fatalf("listen key: %v", err)
	}
	second, err := r.ListenKey()
	if err != nil {
		t.Fatalf("listen key: %v", err)
	}
	if first.Public() != second.Public() {
		t.Fatal("expected the same key to be loaded on a second call")
	}
}

func TestListenAndConnectKeysAreIndependent(t *testing.T) {
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	listen, err := r.ListenKey()
	if err != nil {
		t.Fatalf("listen key: %v", err)
	}
	connect, err := r.ConnectKey()
	if err != nil {
		t.Fatalf("connect key: %v", err)
	}
	if listen.Public() == connect.Public() {
		t.Fatal("expected listen_key and connect_key to differ")
	}
}

func TestStatePathIsInsideRepoDir(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if r.StatePath() != filepath.Join(dir, "state.yml") {
		t.Fatalf("unexpected state path: %s", r.StatePath())
	}
}
