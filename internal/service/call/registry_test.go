package call

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRegistryAddRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	session := &Session{CallID: uuid.New()}

	assert.NoError(t, registry.Add(session))
	assert.ErrorIs(t, registry.Add(&Session{CallID: session.CallID}), ErrSessionExists)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	session := &Session{CallID: uuid.New()}

	assert.NoError(t, registry.Add(session))
	registry.Remove(session.CallID)
	registry.Remove(session.CallID)

	assert.Nil(t, registry.Get(session.CallID))
	assert.Equal(t, 0, registry.Len())
}
