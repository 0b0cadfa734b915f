package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/mood-agency/relay/internal/config"
	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
)

func TestOpenAndHealth(t *testing.T) {
	rt, err := Open(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfgpkg.Default(),
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Queue() == nil {
		t.Fatalf("queue engine not wired")
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := cfgpkg.Default()

	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := rt.Queue().Enqueue(ctx, "t", []byte(`{}`), 0, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_ = rt.Close()

	rt2, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfg})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt2.Close()
	if st := rt2.Queue().Status(); st.Queued != 1 {
		t.Fatalf("restored status: %+v", st)
	}
}
