package jsonl

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ari/usage-history/internal/history"
)

func readAll(t *testing.T, path string) ([]*history.UsageEvent, int) {
	t.Helper()
	it, err := NewReader().Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	defer it.Close()

	var events []*history.UsageEvent
	skipped := 0
	for {
		ev, err := it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events, skipped
			}
			var pe *history.ParseError
			if errors.As(err, &pe) {
				skipped++
				continue
			}
			t.Fatalf("Next() error = %v", err)
		}
		events = append(events, ev)
	}
}

func TestReadUsageRecords(t *testing.T) {
	content := `{"type":"user","timestamp":"2026-02-26T10:00:00Z","sessionId":"sess-1","uuid":"rec-1","cwd":"/work/proj","gitBranch":"main"}
{"type":"assistant","timestamp":"2026-02-26T10:00:05Z","sessionId":"sess-1","uuid":"rec-2","cwd":"/work/proj","gitBranch":"main","message":{"id":"msg-abc","model":"model-x","usage":{"input_tokens":1000,"output_tokens":500,"cache_creation_input_tokens":200,"cache_read_input_tokens":300}}}
{"type":"summary","summary":"Some conversation"}
{"type":"assistant","timestamp":"2026-02-26T10:00:06Z","sessionId":"sess-1","uuid":"rec-3"}
`
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	events, skipped := readAll(t, path)
	if skipped != 0 {
		t.Errorf("skipped = %d; want 0", skipped)
	}
	// summary and usage-less assistant records are skipped silently.
	if len(events) != 2 {
		t.Fatalf("len(events) = %d; want 2", len(events))
	}

	user := events[0]
	if user.MessageType != "user" || user.SessionID != "sess-1" || user.MessageUUID != "rec-1" {
		t.Errorf("user event = %+v", user)
	}
	if user.Folder != "/work/proj" || user.GitBranch != "main" {
		t.Errorf("user context = %q %q; want /work/proj main", user.Folder, user.GitBranch)
	}
	if user.DateKey() != "2026-02-26" {
		t.Errorf("DateKey() = %s; want 2026-02-26", user.DateKey())
	}

	asst := events[1]
	if asst.MessageUUID != "msg-abc" {
		t.Errorf("MessageUUID = %s; want msg-abc (message id preferred)", asst.MessageUUID)
	}
	if asst.Model != "model-x" {
		t.Errorf("Model = %s; want model-x", asst.Model)
	}
	if asst.Tokens.Total() != 2000 {
		t.Errorf("Tokens.Total() = %d; want 2000", asst.Tokens.Total())
	}
	if asst.Tokens.CacheRead != 300 {
		t.Errorf("Tokens.CacheRead = %d; want 300", asst.Tokens.CacheRead)
	}
}

func TestReadMalformedLines(t *testing.T) {
	content := `{"type":"user","timestamp":"2026-02-26T10:00:00Z","sessionId":"sess-1","uuid":"rec-1"}
not json at all
{"type":"user","timestamp":"garbage","sessionId":"sess-1","uuid":"rec-2"}
{"type":"user","timestamp":"2026-02-26T10:01:00Z","sessionId":"","uuid":"rec-3"}
{"type":"user","timestamp":"2026-02-26T10:02:00Z","sessionId":"sess-1","uuid":"rec-4"}
`
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	events, skipped := readAll(t, path)
	if len(events) != 2 {
		t.Errorf("len(events) = %d; want 2", len(events))
	}
	if skipped != 3 {
		t.Errorf("skipped = %d; want 3", skipped)
	}
}

func TestParseErrorCarriesLine(t *testing.T) {
	content := `{"type":"user","timestamp":"2026-02-26T10:00:00Z","sessionId":"sess-1","uuid":"rec-1"}
{broken`
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	it, err := NewReader().Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	defer it.Close()

	if _, err := it.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	_, err = it.Next()
	var pe *history.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("second Next() error = %v; want *ParseError", err)
	}
	if pe.Line != 2 || pe.Path != path {
		t.Errorf("ParseError = %+v; want line 2 of %s", pe, path)
	}
	// The iterator stays usable past a bad record.
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after ParseError = %v; want io.EOF", err)
	}
}

func TestReadRestartsFromTop(t *testing.T) {
	content := `{"type":"user","timestamp":"2026-02-26T10:00:00Z","sessionId":"sess-1","uuid":"rec-1"}
`
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	first, _ := readAll(t, path)
	second, _ := readAll(t, path)
	if len(first) != 1 || len(second) != 1 {
		t.Errorf("passes returned %d and %d events; want 1 and 1", len(first), len(second))
	}
}

func TestListSources(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "project-a")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		filepath.Join(dir, "b.jsonl"),
		filepath.Join(sub, "a.jsonl"),
		filepath.Join(dir, "notes.txt"),
	} {
		if err := os.WriteFile(name, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sources, err := ListSources(dir)
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d; want 2 (.txt excluded)", len(sources))
	}
	if sources[0].Path != filepath.Join(dir, "b.jsonl") {
		t.Errorf("sources[0] = %s; want %s (sorted by path)", sources[0].Path, filepath.Join(dir, "b.jsonl"))
	}
	if sources[1].Path != filepath.Join(sub, "a.jsonl") {
		t.Errorf("sources[1] = %s; want %s", sources[1].Path, filepath.Join(sub, "a.jsonl"))
	}
	for _, src := range sources {
		if src.MtimeNS == 0 {
			t.Errorf("source %s has zero mtime", src.Path)
		}
	}
}
