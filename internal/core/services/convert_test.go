package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remarklab/mdsync/internal/core/domain"
)

func TestConversionCachesByContentHash(t *testing.T) {
	converter := &mockConverter{}
	c := NewConversion(converter)

	first, err := c.Render(context.Background(), "notes.md", []byte("# hello"))
	require.NoError(t, err)
	second, err := c.Render(context.Background(), "notes.md", []byte("# hello"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, converter.callCount(), "identical content must render once")

	// Changed content re-renders.
	_, err = c.Render(context.Background(), "notes.md", []byte("# hello again"))
	require.NoError(t, err)
	assert.Equal(t, 2, converter.callCount())
}

func TestConversionCacheIsPerPath(t *testing.T) {
	converter := &mockConverter{}
	c := NewConversion(converter)

	_, err := c.Render(context.Background(), "a.md", []byte("# same"))
	require.NoError(t, err)
	_, err = c.Render(context.Background(), "b.md", []byte("# same"))
	require.NoError(t, err)
	assert.Equal(t, 2, converter.callCount())
}

func TestConversionInvalidate(t *testing.T) {
	converter := &mockConverter{}
	c := NewConversion(converter)

	_, err := c.Render(context.Background(), "notes.md", []byte("# hello"))
	require.NoError(t, err)
	c.Invalidate("notes.md")
	_, err = c.Render(context.Background(), "notes.md", []byte("# hello"))
	require.NoError(t, err)
	assert.Equal(t, 2, converter.callCount())
}

func TestConversionFailureWrapped(t *testing.T) {
	converter := &mockConverter{
		convertFn: func(_ context.Context, _ []byte) ([]byte, error) {
			return nil, errors.New("pandoc exited 1")
		},
	}
	c := NewConversion(converter)

	_, err := c.Render(context.Background(), "notes.md", []byte("# hello"))
	require.ErrorIs(t, err, domain.ErrConversion)

	// Failures are not cached.
	converter.convertFn = nil
	_, err = c.Render(context.Background(), "notes.md", []byte("# hello"))
	require.NoError(t, err)
}
