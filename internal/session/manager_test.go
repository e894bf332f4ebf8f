package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/config"
	"github.com/raaihank/pii-veil/internal/obfuscation"
)

func newTestManager(t *testing.T, defaults ...string) *Manager {
	t.Helper()
	engine, err := obfuscation.NewEngine(obfuscation.Options{Categories: []string{"all"}}, zap.NewNop())
	require.NoError(t, err)
	return NewManager(NewMemoryStore(0), engine, defaults, zap.NewNop())
}

func TestManagerWorkflow(t *testing.T) {
	ctx := context.Background()

	t.Run("mask then restore edited copy", func(t *testing.T) {
		m := newTestManager(t)
		s, err := m.Create(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, s.ID)
		assert.Empty(t, s.Mappings)

		s, err = m.Obfuscate(ctx, s.ID, "Contact John Smith at john@example.com or 555-123-4567.")
		require.NoError(t, err)
		assert.Equal(t, "Contact [NAME_1] at [EMAIL_1] or [PHONE_1].", s.MaskedText)
		require.Len(t, s.Mappings, 3)

		restored, mappings, err := m.Deobfuscate(ctx, s.ID, "Please reply to [NAME_1] via [EMAIL_1].")
		require.NoError(t, err)
		assert.Equal(t, "Please reply to John Smith via john@example.com.", restored)
		assert.Len(t, mappings, 3)
	})

	t.Run("blank text is kept and the mapping reset", func(t *testing.T) {
		m := newTestManager(t)
		s, _ := m.Create(ctx)
		_, err := m.Obfuscate(ctx, s.ID, "mail a@b.com")
		require.NoError(t, err)

		s, err = m.Obfuscate(ctx, s.ID, "   ")
		require.NoError(t, err)
		assert.Equal(t, "   ", s.MaskedText)
		assert.NotNil(t, s.Mappings)
		assert.Empty(t, s.Mappings)
	})

	t.Run("custom word changes re-mask stored text", func(t *testing.T) {
		m := newTestManager(t, "Acme Corp")
		s, _ := m.Create(ctx)
		assert.Equal(t, []string{"Acme Corp"}, s.CustomWords)

		s, err := m.Obfuscate(ctx, s.ID, "Acme Corp and Project Falcon")
		require.NoError(t, err)
		assert.Equal(t, "[CUSTOM_1] and [NAME_1]", s.MaskedText)

		s, err = m.AddCustomWord(ctx, s.ID, "  Falcon ")
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme Corp", "Falcon"}, s.CustomWords)
		assert.Equal(t, "[CUSTOM_1] and Project [CUSTOM_2]", s.MaskedText)

		s, err = m.AddCustomWord(ctx, s.ID, "Falcon")
		require.NoError(t, err)
		assert.Len(t, s.CustomWords, 2, "duplicate word is not added twice")

		s, err = m.RemoveCustomWord(ctx, s.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"Falcon"}, s.CustomWords)
		assert.Equal(t, "[NAME_1] and Project [CUSTOM_1]", s.MaskedText)

		s, err = m.SetCustomWords(ctx, s.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{}, s.CustomWords)
		assert.Equal(t, "[NAME_1] and [NAME_2]", s.MaskedText)
	})

	t.Run("clear keeps custom words", func(t *testing.T) {
		m := newTestManager(t, "Falcon")
		s, _ := m.Create(ctx)
		_, err := m.Obfuscate(ctx, s.ID, "Falcon launch")
		require.NoError(t, err)

		s, err = m.Clear(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, s.SourceText)
		assert.Empty(t, s.MaskedText)
		assert.Empty(t, s.Mappings)
		assert.Equal(t, []string{"Falcon"}, s.CustomWords)
	})

	t.Run("errors", func(t *testing.T) {
		m := newTestManager(t)
		s, _ := m.Create(ctx)

		_, err := m.AddCustomWord(ctx, s.ID, " ")
		assert.ErrorIs(t, err, ErrBlankWord)

		_, err = m.RemoveCustomWord(ctx, s.ID, 3)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)

		_, err = m.Obfuscate(ctx, "missing", "text")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, m.Delete(ctx, s.ID))
		_, err = m.Get(ctx, s.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("default words can change at runtime", func(t *testing.T) {
		m := newTestManager(t, "Old")
		m.SetDefaultCustomWords([]string{"New"})
		s, err := m.Create(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"New"}, s.CustomWords)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("returns copies", func(t *testing.T) {
		store := NewMemoryStore(0)
		s := &Session{ID: "a", CustomWords: []string{"x"}, UpdatedAt: time.Now()}
		require.NoError(t, store.Save(ctx, s))

		s.CustomWords[0] = "changed"
		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, got.CustomWords)
	})

	t.Run("expires by ttl", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		require.NoError(t, store.Save(ctx, &Session{ID: "old", UpdatedAt: time.Now().Add(-time.Hour)}))
		require.NoError(t, store.Save(ctx, &Session{ID: "new", UpdatedAt: time.Now()}))

		_, err := store.Get(ctx, "old")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1, store.CleanupExpired())

		_, err = store.Get(ctx, "new")
		assert.NoError(t, err)
	})
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(config.StoreConfig{Backend: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = NewStore(config.StoreConfig{Backend: "sqlite"}, zap.NewNop())
	assert.Error(t, err)
}

func TestManagerConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	s, err := m.Create(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			_, err := m.AddCustomWord(ctx, s.ID, fmt.Sprintf("word%d", i))
			assert.NoError(t, err)
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	s, err = m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, s.CustomWords, 10)
}
