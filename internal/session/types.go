package session

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired
	ErrNotFound = errors.New("session not found")
	// ErrIndexOutOfRange is returned when removing a custom word by a bad index
	ErrIndexOutOfRange = errors.New("custom word index out of range")
)

// Session is the state a client keeps between masking a text and restoring the
// edited copy. Mappings and custom words serialize as JSON arrays.
type Session struct {
	ID          string                     `json:"id"`
	SourceText  string                     `json:"source_text"`
	MaskedText  string                     `json:"masked_text"`
	Mappings    []obfuscation.MappingEntry `json:"mappings"`
	CustomWords []string                   `json:"custom_words"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// Store persists sessions
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

func (s *Session) clone() *Session {
	c := *s
	c.Mappings = append([]obfuscation.MappingEntry(nil), s.Mappings...)
	c.CustomWords = append([]string(nil), s.CustomWords...)
	c.normalize()
	return &c
}

// normalize replaces nil slices so JSON always carries arrays
func (s *Session) normalize() {
	if s.Mappings == nil {
		s.Mappings = []obfuscation.MappingEntry{}
	}
	if s.CustomWords == nil {
		s.CustomWords = []string{}
	}
}
