// Package spool reads JSONL record files and ingests the files dropped
// into a spool directory.
//
// A record is one JSON object per line:
//
//	{"record_id": "#12:1", "fields": {"name": ["Rome"], "tags": ["capital"]}}
//
// Records without a record_id get a random UUID. Blank lines are skipped.
package spool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/Aman-CERP/nrtsearch/internal/index"
)

// MaxLineSize bounds one JSONL record.
const MaxLineSize = 4 * 1024 * 1024

// Record is one JSONL line.
type Record struct {
	RecordID string              `json:"record_id"`
	Fields   map[string][]string `json:"fields"`
}

// Document converts r, generating a record id when it has none.
func (r Record) Document() index.Document {
	rid := r.RecordID
	if rid == "" {
		rid = uuid.NewString()
	}
	return index.Document{RecordID: rid, Fields: r.Fields}
}

// ReadRecords decodes every record of in and passes it to fn. Errors carry
// the 1-based line number.
func ReadRecords(in io.Reader, fn func(index.Document) error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(rec.Document()); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	return nil
}

// CountRecords returns the number of non-blank lines of in.
func CountRecords(in io.Reader) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	n := 0
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}
