package procmanager

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestMockProcessBuilderRecordsStart(t *testing.T) {
	b := NewMockProcessBuilder()

	handle, err := b.Start("lkas-detector", "--config", "sys.yaml")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer handle.(*MockProcessHandle).Exit(nil)

	last := b.LastStarted()
	if last.Name != "lkas-detector" || len(last.Args) != 2 {
		t.Fatalf("got %+v, want name=lkas-detector with 2 args", last)
	}
}

func TestMockProcessHandleEmitsLinesAndExit(t *testing.T) {
	h := NewMockProcessHandle()
	h.Emit("stdout", "ready")
	h.Exit(errors.New("boom"))

	var got []Line
	for line := range h.Lines() {
		got = append(got, line)
	}
	if len(got) != 1 || got[0].Text != "ready" {
		t.Fatalf("got lines %+v, want one 'ready' line", got)
	}

	if err := h.Wait(); err == nil || err.Error() != "boom" {
		t.Fatalf("got Wait()=%v, want boom", err)
	}
}

func TestShutdownReturnsNilWhenProcessExitsDuringGrace(t *testing.T) {
	h := NewMockProcessHandle()
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Exit(nil)
	}()

	if err := Shutdown(h, 200*time.Millisecond); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	sigs := h.Signals()
	if len(sigs) != 1 || sigs[0] != syscall.SIGTERM {
		t.Fatalf("got signals %v, want exactly one SIGTERM", sigs)
	}
}

func TestShutdownEscalatesToSigkillAfterGrace(t *testing.T) {
	h := NewMockProcessHandle()
	go func() {
		// Ignore SIGTERM entirely; only exit once SIGKILL arrives.
		for {
			sigs := h.Signals()
			for _, s := range sigs {
				if s == syscall.SIGKILL {
					h.Exit(nil)
					return
				}
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if err := Shutdown(h, 30*time.Millisecond); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	sigs := h.Signals()
	if len(sigs) != 2 || sigs[0] != syscall.SIGTERM || sigs[1] != syscall.SIGKILL {
		t.Fatalf("got signals %v, want [SIGTERM, SIGKILL]", sigs)
	}
}
