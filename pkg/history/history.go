// Package history implements the executor's transaction history log: a
// structured, append-only audit trail of every Begin/query/Commit/Abort
// and replication event, distinct from the in-memory update history used
// for replication fan-out.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Event is one newline-delimited JSON record in the history log.
type Event struct {
	Time            time.Time `json:"time"`
	SiteID          uint32    `json:"site_id"`
	ClientID        uint32    `json:"client_id,omitempty"`
	TransactionID   uint64    `json:"transaction_id,omitempty"`
	Kind            string    `json:"kind"`
	Detail          string    `json:"detail,omitempty"`
	OriginatingSite uint32    `json:"originating_site,omitempty"`
}

// Logger records history events. FileLogger and NopLogger both satisfy
// it, the way the original source's HistoryLogger trait has a file and
// no-op implementation.
type Logger interface {
	Log(clientID, siteID uint32, transactionID uint64, kind, detail string) error
	LogReplication(originatingSite uint32, statements []string) error
	Close() error
}

// FileLogger appends newline-delimited JSON events to a file, flushing
// after every write.
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenFileLogger opens (creating if necessary) the history file at path
// for appending.
func OpenFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	return &FileLogger{file: f, enc: json.NewEncoder(f)}, nil
}

func (l *FileLogger) write(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(ev); err != nil {
		return fmt.Errorf("write history event: %w", err)
	}
	return l.file.Sync()
}

// Log records a client-facing lifecycle event (begin, query, commit,
// abort) for a transaction.
func (l *FileLogger) Log(clientID, siteID uint32, transactionID uint64, kind, detail string) error {
	return l.write(Event{
		Time:          time.Now(),
		SiteID:        siteID,
		ClientID:      clientID,
		TransactionID: transactionID,
		Kind:          kind,
		Detail:        detail,
	})
}

// LogReplication records the application of a peer's replicated update
// history.
func (l *FileLogger) LogReplication(originatingSite uint32, statements []string) error {
	return l.write(Event{
		Time:            time.Now(),
		Kind:            "replication",
		OriginatingSite: originatingSite,
		Detail:          fmt.Sprintf("%d statements", len(statements)),
	})
}

// Close closes the underlying file.
func (l *FileLogger) Close() error { return l.file.Close() }

// NopLogger discards every event; used in tests and any deployment that
// does not want the audit trail.
type NopLogger struct{}

func (NopLogger) Log(uint32, uint32, uint64, string, string) error { return nil }
func (NopLogger) LogReplication(uint32, []string) error             { return nil }
func (NopLogger) Close() error                                      { return nil }

// ReadEvents decodes every newline-delimited JSON event from r, used by
// tests and offline audit tooling to verify what a FileLogger wrote.
func ReadEvents(r io.Reader) ([]Event, error) {
	dec := json.NewDecoder(r)
	var out []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
