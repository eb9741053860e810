// Package transcript folds the incremental transcript fragments of a live
// interview into an ordered list of speaker segments.
//
// The live service streams recognised user speech and transcribed model speech
// as small fragments. The [Aggregator] merges consecutive fragments from the
// same speaker into one [Segment] until that segment is marked final, and starts
// a new segment whenever the speaker changes or the previous segment closed.
// After every append it hands out an immutable snapshot, so presentation code
// never shares mutable state with the live session.
package transcript

import (
	"sync"

	"github.com/google/uuid"
)

// Segment is one contiguous utterance by a single speaker.
type Segment struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	IsUser  bool   `json:"is_user"`
	IsFinal bool   `json:"is_final"`
}

// Aggregator accumulates segments for one transcript.
//
// All methods are safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	segments []Segment
	newID    func() string
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{newID: uuid.NewString}
}

// Append merges a fragment into the transcript and returns a snapshot.
//
// If the last segment belongs to the same speaker and is not final, text is
// appended to it and its finality becomes isFinal. Otherwise a new segment is
// started. A turn completion is modelled as Append("", false, true).
func (a *Aggregator) Append(text string, isUser, isFinal bool) []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.segments); n > 0 {
		last := &a.segments[n-1]
		if last.IsUser == isUser && !last.IsFinal {
			last.Text += text
			last.IsFinal = isFinal
			return a.snapshotLocked()
		}
	}

	a.segments = append(a.segments, Segment{
		ID:      a.id(),
		Text:    text,
		IsUser:  isUser,
		IsFinal: isFinal,
	})
	return a.snapshotLocked()
}

// Snapshot returns a copy of the current segments.
func (a *Aggregator) Snapshot() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Len returns the number of segments.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Reset discards the transcript.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = nil
}

func (a *Aggregator) id() string {
	if a.newID == nil {
		return uuid.NewString()
	}
	return a.newID()
}

func (a *Aggregator) snapshotLocked() []Segment {
	out := make([]Segment, len(a.segments))
	copy(out, a.segments)
	return out
}
