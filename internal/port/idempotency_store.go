package port

import "context"

type IdempotencyStore interface {
	// Claim reserves key for the caller. When the key already exists it returns
	// claimed=false together with the value stored under it
	Claim(ctx context.Context, key string) (value string, claimed bool, err error)

	// Complete stores the outcome of the claimed request under key
	Complete(ctx context.Context, key, value string) error

	// Abandon drops a claim so the request can be retried
	Abandon(ctx context.Context, key string) error
}
