package core

import "context"

// Receiver delivers inbound updates until ctx is cancelled.
type Receiver interface {
	Start(ctx context.Context) error
}
