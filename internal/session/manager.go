package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

// ErrBlankWord is returned when adding an empty custom word
var ErrBlankWord = errors.New("custom word is blank")

// Masker is the transform pair a Manager drives
type Masker interface {
	Obfuscate(text string, customWords []string) obfuscation.Result
	Deobfuscate(text string, mappings []obfuscation.MappingEntry) string
}

// Manager implements the mask / edit elsewhere / restore workflow on top of a Store.
// A session's mapping is replaced whenever its text or custom words change.
type Manager struct {
	store  Store
	masker Masker
	logger *zap.Logger

	mu           sync.RWMutex
	defaultWords []string

	// serializes read-modify-write cycles so concurrent edits are not lost
	updateMu sync.Mutex

	now func() time.Time
}

// NewManager creates a session manager
func NewManager(store Store, masker Masker, defaultWords []string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:        store,
		masker:       masker,
		logger:       logger,
		defaultWords: append([]string(nil), defaultWords...),
		now:          time.Now,
	}
}

// SetDefaultCustomWords changes the words new sessions start with
func (m *Manager) SetDefaultCustomWords(words []string) {
	m.mu.Lock()
	m.defaultWords = append([]string(nil), words...)
	m.mu.Unlock()
}

// Create starts an empty session seeded with the default custom words
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	words := append([]string{}, m.defaultWords...)
	m.mu.RUnlock()

	s := &Session{
		ID:          uuid.New().String(),
		Mappings:    []obfuscation.MappingEntry{},
		CustomWords: words,
		UpdatedAt:   m.now(),
	}

	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("Session created", zap.String("session_id", s.ID), zap.Int("custom_words", len(words)))
	return s, nil
}

// Get loads a session
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Obfuscate masks text with the session's custom words and stores the new mapping.
// Blank text resets the session's text and mapping.
func (m *Manager) Obfuscate(ctx context.Context, id, text string) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		s.SourceText = text
		m.remask(s)
		return nil
	})
}

// Deobfuscate restores text with the session's stored mapping
func (m *Manager) Deobfuscate(ctx context.Context, id, text string) (string, []obfuscation.MappingEntry, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return m.masker.Deobfuscate(text, s.Mappings), s.Mappings, nil
}

// SetCustomWords replaces the custom-word list and re-masks the stored text
func (m *Manager) SetCustomWords(ctx context.Context, id string, words []string) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		s.CustomWords = append([]string{}, words...)
		m.remask(s)
		return nil
	})
}

// AddCustomWord appends a trimmed word unless it is already listed, then re-masks
func (m *Manager) AddCustomWord(ctx context.Context, id, word string) (*Session, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, ErrBlankWord
	}

	return m.update(ctx, id, func(s *Session) error {
		for _, w := range s.CustomWords {
			if w == word {
				return nil
			}
		}
		s.CustomWords = append(s.CustomWords, word)
		m.remask(s)
		return nil
	})
}

// RemoveCustomWord drops the word at index and re-masks
func (m *Manager) RemoveCustomWord(ctx context.Context, id string, index int) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		if index < 0 || index >= len(s.CustomWords) {
			return ErrIndexOutOfRange
		}
		s.CustomWords = append(s.CustomWords[:index:index], s.CustomWords[index+1:]...)
		m.remask(s)
		return nil
	})
}

// Clear drops the session's text and mapping but keeps its custom words
func (m *Manager) Clear(ctx context.Context, id string) (*Session, error) {
	return m.update(ctx, id, func(s *Session) error {
		s.SourceText = ""
		m.remask(s)
		return nil
	})
}

// Delete removes a session
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

func (m *Manager) update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := mutate(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()
	s.normalize()

	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

// remask recomputes masked text and mapping from the source text
func (m *Manager) remask(s *Session) {
	if strings.TrimSpace(s.SourceText) == "" {
		s.MaskedText = s.SourceText
		s.Mappings = []obfuscation.MappingEntry{}
		return
	}

	result := m.masker.Obfuscate(s.SourceText, s.CustomWords)
	s.MaskedText = result.Obfuscated
	s.Mappings = result.Mappings

	m.logger.Debug("Session re-masked",
		zap.String("session_id", s.ID),
		zap.Int("mappings", len(s.Mappings)))
}
