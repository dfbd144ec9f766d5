package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/logger"
)

// Conversion renders markdown to PDF through the configured converter,
// caching results per path keyed by the source content hash. Retrying a
// failed upload must not pay for a second render of identical content.
type Conversion struct {
	converter driven.Converter

	mu    sync.Mutex
	cache map[string]convertedDoc
}

type convertedDoc struct {
	sourceHash string
	pdf        []byte
}

func NewConversion(converter driven.Converter) *Conversion {
	return &Conversion{
		converter: converter,
		cache:     map[string]convertedDoc{},
	}
}

// Render converts markdown to PDF, reusing the cached render when the
// source content is unchanged.
func (c *Conversion) Render(ctx context.Context, path string, markdown []byte) ([]byte, error) {
	hash := HashBytes(markdown)

	c.mu.Lock()
	cached, ok := c.cache[path]
	c.mu.Unlock()
	if ok && cached.sourceHash == hash {
		logger.Debug("conversion cache hit for %s", path)
		return cached.pdf, nil
	}

	pdf, err := c.converter.Convert(ctx, markdown)
	if err != nil {
		if !errors.Is(err, domain.ErrConversion) {
			err = fmt.Errorf("%w: %w", domain.ErrConversion, err)
		}
		return nil, fmt.Errorf("render %s: %w", path, err)
	}

	c.mu.Lock()
	c.cache[path] = convertedDoc{sourceHash: hash, pdf: pdf}
	c.mu.Unlock()
	return pdf, nil
}

// Invalidate drops the cached render for a path, after a delete or rename.
func (c *Conversion) Invalidate(path string) {
	c.mu.Lock()
	delete(c.cache, path)
	c.mu.Unlock()
}
