//go:build linux

package terminal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/logging"
	"github.com/jshsakura/oc-terminal-list/internal/reactor"
)

func TestShellSession_EndToEnd(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() {
		cancel()
		r.Close()
	}()

	hist := history.New(nil, 1000, logging.Nop(), nil)
	defer hist.Close()
	m := NewManager(Options{
		Spawner:        ShellSpawner{Shell: "/bin/sh", Dir: t.TempDir(), Locale: "C.UTF-8"},
		Poller:         r,
		History:        hist,
		Log:            logging.Nop(),
		LivenessPeriod: 100 * time.Millisecond,
		KillGrace:      time.Second,
	})

	if _, _, err := m.Create(ctx, "e2e", "alice", 80, 24); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ch := &recordingChannel{}
	if err := m.Attach(ctx, "e2e", ch); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	m.WriteInput("e2e", []byte("echo hel\"\"lo-$TERM\n"))
	eventually(t, "shell output", func() bool {
		return strings.Contains(ch.live(), "hello-xterm-256color")
	})

	// A reconnecting client sees the same output in its replay
	m.Detach("e2e", ch)
	again := &recordingChannel{}
	if err := m.Attach(ctx, "e2e", again); err != nil {
		t.Fatalf("re-Attach: %v", err)
	}
	if !strings.Contains(again.replay(), "hello-xterm-256color") {
		t.Errorf("replay missing earlier output: %q", again.replay())
	}

	if _, err := m.Resize(ctx, "e2e", 120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	m.WriteInput("e2e", []byte("stty size\n"))
	eventually(t, "resized terminal", func() bool {
		return strings.Contains(again.live(), "40 120")
	})

	if err := m.Kill(ctx, "e2e"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if m.Exists("e2e") {
		t.Error("session still registered after Kill")
	}
}

func TestShellSession_ExitDetected(t *testing.T) {
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() {
		cancel()
		r.Close()
	}()

	hist := history.New(nil, 1000, logging.Nop(), nil)
	defer hist.Close()
	m := NewManager(Options{
		Spawner:        ShellSpawner{Shell: "/bin/sh", Dir: t.TempDir()},
		Poller:         r,
		History:        hist,
		Log:            logging.Nop(),
		LivenessPeriod: 50 * time.Millisecond,
	})

	m.Create(ctx, "exit", "alice", 80, 24)
	m.WriteInput("exit", []byte("exit\n"))
	eventually(t, "exit to be observed", func() bool {
		s := m.Get("exit")
		return s != nil && !s.Alive()
	})
	if err := m.Kill(ctx, "exit"); err != nil {
		t.Fatalf("Kill after exit: %v", err)
	}
}
