package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	m := &manager{openers: make(map[string]Opener)}
	errOpen := errors.New("open")

	require.NoError(t, m.Register("b", func(Codec) (Encoder, error) { return nil, errOpen }))
	require.NoError(t, m.Register("a", func(Codec) (Encoder, error) { return nil, nil }))
	assert.Error(t, m.Register("a", func(Codec) (Encoder, error) { return nil, nil }))
	assert.Error(t, m.Register("c", nil))

	assert.Equal(t, []string{"a", "b"}, m.Query())

	_, err := m.Open("b", CodecH264)
	assert.ErrorIs(t, err, errOpen)

	_, err = m.Open("missing", CodecH264)
	assert.Error(t, err)
}
