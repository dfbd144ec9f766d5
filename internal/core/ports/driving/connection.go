package driving

import (
	"context"

	"github.com/remarklab/mdsync/internal/core/domain"
)

// ConnectionService exposes manual control over the device session.
type ConnectionService interface {
	// Connect establishes a session, retrying with backoff up to the
	// configured attempt cap.
	Connect(ctx context.Context) error

	// Disconnect tears the session down.
	Disconnect() error

	// State returns the current connection state and the last error
	// message, empty when healthy.
	State() (domain.ConnState, string)
}
