package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore(nil)
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore(nil)
	assert.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SetMeta(context.Background(), "k", "v"), ErrClosed)
}
