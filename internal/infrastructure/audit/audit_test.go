package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_EmptyPathIsNop(t *testing.T) {
	w, err := Open("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Write(Record{Direction: DirectionOutboundRequest}); err != nil {
		t.Errorf("unexpected error writing to nop writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("unexpected error closing nop writer: %v", err)
	}
}

func TestWriter_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if err := w.Write(Record{Direction: DirectionOutboundRequest, Backend: "openai", Model: "gpt-4", SessionID: "s1", ContentLength: 10}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Write(Record{Direction: DirectionInboundResponse, Backend: "openai", Model: "gpt-4", SessionID: "s1", ContentLength: 20}); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []Record
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Direction != DirectionOutboundRequest || lines[0].TimestampISO == "" {
		t.Errorf("unexpected first record: %+v", lines[0])
	}
	if lines[1].Direction != DirectionInboundResponse {
		t.Errorf("unexpected second record: %+v", lines[1])
	}
}
