// Package cache holds best-so-far output of optimization runs, separate from
// the authoritative metadata record, so stalled runs can be salvaged.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const DefaultExpiration = 30 * time.Minute

// Key identifies one optimization target for one user's document. RunID
// scopes the entry to a single run so a superseded run never touches the
// entry of the run that replaced it.
type Key struct {
	UserID      string
	DocumentID  string
	Fingerprint string
	RunID       string
}

func (k Key) String() string {
	s := k.UserID + ":" + k.DocumentID + ":" + k.Fingerprint
	if k.RunID != "" {
		s += ":" + k.RunID
	}
	return s
}

// Fingerprint derives a short stable id for a job target so two targets for
// the same document never share an entry.
func Fingerprint(jobDescription, template string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(jobDescription), " "))
	sum := sha256.Sum256([]byte(normalized + "\x00" + strings.ToLower(strings.TrimSpace(template))))
	return hex.EncodeToString(sum[:])[:16]
}

// PartialResult is what a stage reports as its best output so far.
type PartialResult struct {
	OptimizedContent string   `json:"optimizedContent"`
	MatchScore       float64  `json:"matchScore"`
	Recommendations  []string `json:"recommendations"`
	Progress         int      `json:"progress"`
}

type Entry struct {
	OptimizedContent string    `json:"optimizedContent"`
	MatchScore       float64   `json:"matchScore"`
	Recommendations  []string  `json:"recommendations"`
	Progress         int       `json:"progress"`
	RetryCount       int       `json:"retryCount"`
	Error            *string   `json:"error"`
	Timestamp        time.Time `json:"timestamp"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

func (e *Entry) clone() *Entry {
	c := *e
	if e.Recommendations != nil {
		c.Recommendations = append([]string(nil), e.Recommendations...)
	}
	if e.Error != nil {
		msg := *e.Error
		c.Error = &msg
	}
	return &c
}

// Usable reports whether the entry carries content worth promoting to a result.
func (e *Entry) Usable() bool {
	return e != nil && strings.TrimSpace(e.OptimizedContent) != ""
}

// apply merges a partial result. Content only moves forward.
func (e *Entry) apply(p PartialResult, now time.Time) bool {
	e.LastUpdated = now
	if p.Progress <= e.Progress {
		return false
	}
	e.Progress = p.Progress
	if p.OptimizedContent != "" {
		e.OptimizedContent = p.OptimizedContent
	}
	if p.MatchScore != 0 {
		e.MatchScore = p.MatchScore
	}
	if p.Recommendations != nil {
		e.Recommendations = append([]string(nil), p.Recommendations...)
	}
	return true
}

func newEntry(now time.Time) *Entry {
	return &Entry{Timestamp: now, LastUpdated: now}
}

func (e *Entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastUpdated) > ttl
}

// Cache is implemented by the in-process map and the Redis store.
type Cache interface {
	// Store applies update-if-better semantics.
	Store(ctx context.Context, key Key, result PartialResult) error
	// Get returns a snapshot, or nil when absent, and refreshes LastUpdated.
	Get(ctx context.Context, key Key) (*Entry, error)
	IncrementRetry(ctx context.Context, key Key) (int, error)
	// RecordError keeps any previously stored content.
	RecordError(ctx context.Context, key Key, message string) error
	Clear(ctx context.Context, key Key) error
	// Sweep evicts expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}
