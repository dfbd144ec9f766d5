package driven

import "context"

// Converter renders markdown bytes to PDF bytes. Pure function of its
// input: the conversion gateway caches results by content hash, so
// implementations must not depend on anything but the given bytes.
// Failures wrap domain.ErrConversion with a human-readable cause.
type Converter interface {
	Convert(ctx context.Context, markdown []byte) ([]byte, error)
}
