// Package history is the ordered, append-only log of conversation turns a
// deep session replays on every outbound request. Turns are immutable once
// appended; corrections are modeled as new turns.
package history

import (
	"errors"
	"fmt"
	"sync"
)

// ErrFull is returned when a bounded store would exceed capacity. The append
// fails closed: silently dropping a turn would desynchronize the
// continuation-token context held by the remote service.
var ErrFull = errors.New("history: capacity exceeded")

// Role tags who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// PartKind discriminates the Part variant.
type PartKind string

const (
	PartText              PartKind = "text"
	PartFileReference     PartKind = "file_reference"
	PartContinuationToken PartKind = "continuation_token"
)

// Part is one unit of content within a Turn. Exactly one payload field is set,
// selected by Kind. Continuation tokens are opaque: stored verbatim, replayed
// verbatim, never inspected.
type Part struct {
	Kind              PartKind `json:"kind"`
	Text              string   `json:"text,omitempty"`
	FileURI           string   `json:"file_uri,omitempty"`
	ContinuationToken []byte   `json:"continuation_token,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func FilePart(uri string) Part {
	return Part{Kind: PartFileReference, FileURI: uri}
}

func ContinuationPart(token []byte) Part {
	cp := make([]byte, len(token))
	copy(cp, token)
	return Part{Kind: PartContinuationToken, ContinuationToken: cp}
}

func (p Part) clone() Part {
	out := p
	if p.ContinuationToken != nil {
		out.ContinuationToken = make([]byte, len(p.ContinuationToken))
		copy(out.ContinuationToken, p.ContinuationToken)
	}
	return out
}

// Turn is one role-tagged exchange unit. Part order is positionally meaningful
// to the remote service and must survive storage unchanged.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

func (t Turn) clone() Turn {
	out := Turn{Role: t.Role, Parts: make([]Part, len(t.Parts))}
	for i, p := range t.Parts {
		out.Parts[i] = p.clone()
	}
	return out
}

func (t Turn) validate() error {
	switch t.Role {
	case RoleUser, RoleModel:
	default:
		return fmt.Errorf("history: invalid role %q", t.Role)
	}
	if len(t.Parts) == 0 {
		return errors.New("history: turn has no parts")
	}
	return nil
}

// Store is the in-memory history log plus the set of file references pending
// for the next user turn. Attachments persist across turns until the caller
// clears them explicitly; there is no implicit per-turn reset.
type Store struct {
	mu          sync.Mutex
	turns       []Turn
	maxTurns    int
	attachments []string
}

// New returns a store bounded to maxTurns. maxTurns <= 0 means unbounded.
func New(maxTurns int) *Store {
	return &Store{
		turns:    make([]Turn, 0, 16),
		maxTurns: maxTurns,
	}
}

// Append adds one immutable turn to the log.
func (s *Store) Append(t Turn) error {
	if err := t.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxTurns > 0 && len(s.turns)+1 > s.maxTurns {
		return ErrFull
	}
	s.turns = append(s.turns, t.clone())
	return nil
}

// AppendExchange commits a user turn and the model turn that answered it as
// one unit: both appear in the log, or neither does.
func (s *Store) AppendExchange(user, model Turn) error {
	if err := user.validate(); err != nil {
		return err
	}
	if err := model.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxTurns > 0 && len(s.turns)+2 > s.maxTurns {
		return ErrFull
	}
	s.turns = append(s.turns, user.clone(), model.clone())
	return nil
}

// Snapshot returns the full ordered log as deep copies. Mutating the result
// does not affect the store.
func (s *Store) Snapshot() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.clone()
	}
	return out
}

// Len returns the number of turns in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Attach registers a file reference for inclusion in subsequent user turns.
func (s *Store) Attach(uri string) {
	if uri == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = append(s.attachments, uri)
}

// Attachments returns the pending file references in attach order.
func (s *Store) Attachments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.attachments))
	copy(out, s.attachments)
	return out
}

// ClearAttachments drops all pending file references.
func (s *Store) ClearAttachments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = nil
}
