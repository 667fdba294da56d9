package mlog

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	defer SetConfig(map[string]slog.Level{"": LevelError})

	SetConfig(map[string]slog.Level{"": LevelInfo, "noisy": LevelDebug})

	log := New("quiet", nil)
	log.Debug("hidden")
	log.Info("shown", slog.String("path", "/a/b"))
	log.Errorx("failed", errors.New("boom"))

	nlog := New("noisy", nil)
	nlog.Debug("debug shown")
	nlog.Trace("trace hidden")

	s := buf.String()
	if strings.Contains(s, "hidden") {
		t.Fatalf("unexpected hidden line in output %q", s)
	}
	for _, exp := range []string{"info: shown (pkg: quiet; path: /a/b)", "error: failed: boom (pkg: quiet)", "debug: debug shown (pkg: noisy)"} {
		if !strings.Contains(s, exp) {
			t.Fatalf("missing %q in output %q", exp, s)
		}
	}
}

func TestLogfmt(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	Logfmt = true
	defer func() { Logfmt = false }()

	New("jsondb", nil).Print("stored value", slog.String("value", "a b"))
	exp := `l=print m="stored value" pkg=jsondb value="a b"` + "\n"
	if s := buf.String(); s != exp {
		t.Fatalf("got %q, expected %q", s, exp)
	}
}
