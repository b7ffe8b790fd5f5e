// Package jsonl reads agent session logs: directories of append-only .jsonl
// files, one JSON record per line. It is the data-access layer behind the
// history store; the store itself never touches the filesystem for sources.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ari/usage-history/internal/history"
)

// maxLineBytes bounds a single record. Session logs occasionally carry large
// embedded tool output, so the default bufio limit is far too small.
const maxLineBytes = 10 * 1024 * 1024

// rawRecord is one JSONL line of a session log. Only the fields the history
// store keeps are declared; everything else in the record is ignored.
type rawRecord struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	SessionID string      `json:"sessionId"`
	UUID      string      `json:"uuid"`
	Cwd       string      `json:"cwd"`
	GitBranch string      `json:"gitBranch"`
	Message   *rawMessage `json:"message"`
}

type rawMessage struct {
	ID    string    `json:"id"`
	Model string    `json:"model"`
	Usage *rawUsage `json:"usage"`
}

type rawUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Reader turns session log files into event iterators.
type Reader struct{}

// NewReader returns a Reader for agent session logs.
func NewReader() *Reader { return &Reader{} }

// Read opens one log file for a single lazy pass. Calling Read again on the
// same path restarts from the top.
func (r *Reader) Read(ctx context.Context, path string) (history.EventIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &iterator{path: path, file: f, scanner: sc}, nil
}

type iterator struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// Next returns the next usage event. Lines that are not usage records (file
// summaries, system entries, assistant records without usage) are skipped
// silently; a line that should be a usage record but cannot be decoded comes
// back as a *history.ParseError so the caller can count it and continue.
func (it *iterator) Next() (*history.UsageEvent, error) {
	for it.scanner.Scan() {
		it.line++
		raw := it.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec rawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &history.ParseError{Path: it.path, Line: it.line, Err: err}
		}

		switch rec.Type {
		case "user":
		case "assistant":
			if rec.Message == nil || rec.Message.Usage == nil {
				// Streaming partials and synthetic records carry no usage.
				continue
			}
		default:
			continue
		}

		ev, err := rec.toEvent()
		if err != nil {
			return nil, &history.ParseError{Path: it.path, Line: it.line, Err: err}
		}
		return ev, nil
	}

	if err := it.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading %s: %w", it.path, err)
	}
	return nil, io.EOF
}

func (it *iterator) Close() error { return it.file.Close() }

func (r *rawRecord) toEvent() (*history.UsageEvent, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339, r.Timestamp); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", r.Timestamp, err)
		}
	}
	if r.SessionID == "" {
		return nil, fmt.Errorf("record has no session id")
	}

	// The message id is the stable identity for assistant records; user
	// records carry only the record uuid.
	uuid := r.UUID
	if r.Message != nil && r.Message.ID != "" {
		uuid = r.Message.ID
	}
	if uuid == "" {
		return nil, fmt.Errorf("record has no uuid")
	}

	ev := &history.UsageEvent{
		Timestamp:   ts,
		SessionID:   r.SessionID,
		MessageUUID: uuid,
		MessageType: r.Type,
		Folder:      r.Cwd,
		GitBranch:   r.GitBranch,
	}
	if r.Message != nil {
		ev.Model = r.Message.Model
		if u := r.Message.Usage; u != nil {
			ev.Tokens = history.TokenUsage{
				Input:         u.InputTokens,
				Output:        u.OutputTokens,
				CacheCreation: u.CacheCreationInputTokens,
				CacheRead:     u.CacheReadInputTokens,
			}
		}
	}
	return ev, nil
}

// ListSources walks dir recursively and returns every .jsonl file with its
// modification time, sorted by path. Mtimes are nanoseconds so truncation to
// a coarser resolution elsewhere cannot mask a rewrite.
func ListSources(dir string) ([]history.SourceInfo, error) {
	var sources []history.SourceInfo

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// A vanished or unreadable entry is not fatal to the listing.
			return nil
		}
		if !info.IsDir() && filepath.Ext(path) == ".jsonl" {
			sources = append(sources, history.SourceInfo{
				Path:    path,
				MtimeNS: info.ModTime().UnixNano(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}
