package artifact

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestSignals(t *testing.T) {
	t.Run("emit and list", func(t *testing.T) {
		root := t.TempDir()
		mgr := NewManager(Config{BaseDir: filepath.Join(root, DefaultBaseDirName)}, "run-1")

		if err := mgr.EmitSignal(SignalCompleted, "research-flow", mgr.OutputsPath(), nil); err != nil {
			t.Fatalf("emit: %v", err)
		}
		if err := mgr.EmitSignal(SignalReady, "research-flow", mgr.OutputsPath(), nil); err != nil {
			t.Fatalf("emit: %v", err)
		}

		signals, err := ListSignals(root)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(signals) != 2 {
			t.Fatalf("signals = %d", len(signals))
		}
		for _, sig := range signals {
			if sig.Workflow != "research-flow" || sig.RunID != "run-1" {
				t.Errorf("signal = %+v", sig)
			}
		}
	})

	t.Run("clear removes only the named workflow", func(t *testing.T) {
		root := t.TempDir()
		mgr := NewManager(Config{BaseDir: filepath.Join(root, DefaultBaseDirName)}, "run-1")
		_ = mgr.EmitSignal(SignalStarted, "alpha", "", nil)
		_ = mgr.EmitSignal(SignalStarted, "beta", "", nil)

		if err := mgr.ClearSignals("alpha"); err != nil {
			t.Fatalf("clear: %v", err)
		}
		signals, _ := ListSignals(root)
		if len(signals) != 1 || signals[0].Workflow != "beta" {
			t.Errorf("signals = %+v", signals)
		}
	})

	t.Run("clear all", func(t *testing.T) {
		root := t.TempDir()
		mgr := NewManager(Config{BaseDir: filepath.Join(root, DefaultBaseDirName)}, "run-1")
		_ = mgr.EmitSignal(SignalStarted, "alpha", "", nil)
		_ = mgr.EmitSignal(SignalFailed, "beta", "", map[string]any{"error": "boom"})

		removed, err := ClearAllSignals(root)
		if err != nil {
			t.Fatalf("clear all: %v", err)
		}
		if removed != 2 {
			t.Errorf("removed = %d", removed)
		}
		if signals, _ := ListSignals(root); len(signals) != 0 {
			t.Errorf("signals = %+v", signals)
		}
	})

	t.Run("list with no signal directory", func(t *testing.T) {
		signals, err := ListSignals(t.TempDir())
		if err != nil || signals != nil {
			t.Errorf("signals = %v, err = %v", signals, err)
		}
	})
}

func TestResolveSignalPath(t *testing.T) {
	root := "/work/project"
	cases := []struct {
		name, spec, want string
	}{
		{"signal form", "signal:upstream.ready", "/work/project/.trident/signals/upstream.ready"},
		{"relative path", "signals/done", "/work/project/signals/done"},
		{"absolute path", "/var/run/flow.ready", "/var/run/flow.ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveSignalPath(tc.spec, root); got != tc.want {
				t.Errorf("ResolveSignalPath(%q) = %q, want %q", tc.spec, got, tc.want)
			}
		})
	}
}

func TestWaitForSignals(t *testing.T) {
	t.Run("returns immediately when signals exist", func(t *testing.T) {
		root := t.TempDir()
		mgr := NewManager(Config{BaseDir: filepath.Join(root, DefaultBaseDirName)}, "run-1")
		_ = mgr.EmitSignal(SignalReady, "upstream", "", nil)

		found, err := WaitForSignals(context.Background(), WaitConfig{
			Specs:        []string{"signal:upstream.ready"},
			ProjectRoot:  root,
			Timeout:      time.Second,
			PollInterval: 10 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if len(found) != 1 {
			t.Errorf("found = %+v", found)
		}
	})

	t.Run("times out on missing signal", func(t *testing.T) {
		root := t.TempDir()
		_, err := WaitForSignals(context.Background(), WaitConfig{
			Specs:        []string{"signal:upstream.ready"},
			ProjectRoot:  root,
			Timeout:      30 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		})
		var terr *SignalTimeoutError
		if !errors.As(err, &terr) {
			t.Fatalf("expected SignalTimeoutError, got %v", err)
		}
		if len(terr.Missing) != 1 {
			t.Errorf("missing = %v", terr.Missing)
		}
	})

	t.Run("no specs is a no-op", func(t *testing.T) {
		found, err := WaitForSignals(context.Background(), WaitConfig{})
		if err != nil || found != nil {
			t.Errorf("found = %v, err = %v", found, err)
		}
	})

	t.Run("context cancellation stops the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := WaitForSignals(ctx, WaitConfig{
			Specs:        []string{"signal:never.ready"},
			ProjectRoot:  t.TempDir(),
			Timeout:      time.Minute,
			PollInterval: 10 * time.Millisecond,
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	})
}
