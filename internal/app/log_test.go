package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestKeepHandler_Handle(t *testing.T) {
	ts := time.Date(2026, 2, 10, 9, 15, 30, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "file ingested",
			want:    "2026-02-10T09:15:30Z\tINFO\top-123\tfile ingested\n",
		},
		{
			name:    "warn level",
			opID:    "op-456",
			level:   slog.LevelWarn,
			message: "mirror throttled",
			want:    "2026-02-10T09:15:30Z\tWARN\top-456\tmirror throttled\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelInfo,
			message: "stored",
			attrs:   []slog.Attr{slog.String("path", "/inbox/a.pdf"), slog.Int("size", 42)},
			want:    "2026-02-10T09:15:30Z\tINFO\top-789\tstored\tpath=/inbox/a.pdf\tsize=42\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &keepHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestKeepHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &keepHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "mirror")}).(*keepHandler)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "import", 0)
	r.AddAttrs(slog.String("checksum", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=mirror") {
		t.Errorf("expected pre-set attr component=mirror, got: %q", got)
	}
	if !strings.Contains(got, "checksum=abc") {
		t.Errorf("expected record attr checksum=abc, got: %q", got)
	}

	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}
	if f == nil {
		t.Fatal("newLogger() returned nil file")
	}
}
