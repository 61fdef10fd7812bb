// Package audit records a tamper-evident trail of anonymization events.
// Events carry counts and identifiers only, never original values.
package audit

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/case-sentinel/internal/privacy"
)

// Operation names the engine call an event records.
type Operation string

const (
	OpAnonymize           Operation = "anonymize"
	OpAnonymizeStructured Operation = "anonymize_structured"
	OpRestore             Operation = "restore"
	OpVerify              Operation = "verify"
	OpProxy               Operation = "proxy"
)

// genesisHash is the PrevHash of the first event in a chain.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Counts is the per-label PII count of an event, stored as JSON.
type Counts map[string]int

// Value implements driver.Valuer.
func (c Counts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]int(c))
}

// Scan implements sql.Scanner.
func (c *Counts) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Counts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Counts", src)
	}
	m := map[string]int{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*c = m
	return nil
}

// Event is one audit record.
type Event struct {
	ID         int64     `db:"id" json:"id"`
	Sequence   int64     `db:"sequence" json:"sequence"`
	SessionID  string    `db:"session_id" json:"session_id"`
	RequestID  string    `db:"request_id" json:"request_id"`
	Operation  Operation `db:"operation" json:"operation"`
	TotalCount int       `db:"total_count" json:"total_count"`
	Counts     Counts    `db:"counts" json:"counts"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	PrevHash   string    `db:"prev_hash" json:"prev_hash"`
	Hash       string    `db:"hash" json:"hash"`
}

// NewEvent builds an unchained event from an anonymization result.
func NewEvent(op Operation, requestID string, res *privacy.Result) *Event {
	e := &Event{
		RequestID: requestID,
		Operation: op,
		Counts:    Counts{},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if res != nil {
		e.SessionID = res.SessionID
		e.TotalCount = res.Stats.TotalCount
		for label, n := range res.Stats.CountByCategory {
			e.Counts[label] = n
		}
	}
	return e
}

// ComputeHash returns the SHA-256 of the event's content and PrevHash.
func (e *Event) ComputeHash() string {
	counts, _ := json.Marshal(map[string]int(e.Counts))
	payload := strings.Join([]string{
		strconv.FormatInt(e.Sequence, 10),
		e.SessionID,
		e.RequestID,
		string(e.Operation),
		strconv.Itoa(e.TotalCount),
		string(counts),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.PrevHash,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// chain links e after prev, which may be nil for the first event.
func (e *Event) chain(prev *Event) {
	if prev == nil {
		e.Sequence = 1
		e.PrevHash = genesisHash
	} else {
		e.Sequence = prev.Sequence + 1
		e.PrevHash = prev.Hash
	}
	e.Hash = e.ComputeHash()
}

// ChainError reports the first event whose link is broken.
type ChainError struct {
	Index    int
	Sequence int64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d: %s", e.Sequence, e.Reason)
}

// VerifyChain checks events, ordered by sequence, starting from the genesis
// link. It returns a *ChainError for the first inconsistency.
func VerifyChain(events []*Event) error {
	prevHash := genesisHash
	var prevSeq int64
	for i, e := range events {
		switch {
		case e.Sequence != prevSeq+1:
			return &ChainError{Index: i, Sequence: e.Sequence, Reason: fmt.Sprintf("expected sequence %d", prevSeq+1)}
		case e.PrevHash != prevHash:
			return &ChainError{Index: i, Sequence: e.Sequence, Reason: "previous hash mismatch"}
		case e.ComputeHash() != e.Hash:
			return &ChainError{Index: i, Sequence: e.Sequence, Reason: "content hash mismatch"}
		}
		prevHash = e.Hash
		prevSeq = e.Sequence
	}
	return nil
}
