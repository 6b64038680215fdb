package model

import (
	"crypto/rand"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

func (o Operation) String() string { return string(o) }

func (o Operation) Valid() bool {
	return o == OpCreated || o == OpUpdated || o == OpDeleted
}

// ParseOperation normalizes input. Returns (value, true) if valid;
// otherwise (created, false).
func ParseOperation(s string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created":
		return OpCreated, true
	case "updated":
		return OpUpdated, true
	case "deleted":
		return OpDeleted, true
	default:
		return OpCreated, false
	}
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) String() string { return string(p) }

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank maps a priority onto a queue bucket index: low=0 .. critical=3.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ParsePriority normalizes input; empty => medium.
// Returns (value, true) if valid; otherwise (medium, false).
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, true
	case "high":
		return PriorityHigh, true
	case "", "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	default:
		return PriorityMedium, false
	}
}

// RawNotification is the wire payload consumed from a change-source
// stream. The category is carried by the stream itself (topic-bound),
// not by the payload.
type RawNotification struct {
	TenantID  string          `json:"tenant_id"`
	Operation Operation       `json:"operation"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	NewRecord json.RawMessage `json:"new_record,omitempty"`
}

// ChangeEvent is the normalized envelope flowing through the pipeline.
// Built once at intake and never mutated afterwards. Entity holds the
// post-change record, or the pre-change record for deletes.
type ChangeEvent struct {
	ID         string
	Category   string
	Operation  Operation
	Entity     json.RawMessage
	EntityID   string
	TenantID   string
	ReceivedAt time.Time
}

// NewID generates a ULID for an event stamped at intake.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// EntityIDOf extracts the "id" field of a record, tolerating both
// string and numeric ids. Returns "" when absent or unparsable.
func EntityIDOf(record json.RawMessage) string {
	if len(record) == 0 {
		return ""
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(record, &probe); err != nil || len(probe.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(probe.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(probe.ID, &n); err == nil {
		return n.String()
	}
	var f float64
	if err := json.Unmarshal(probe.ID, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return ""
}
