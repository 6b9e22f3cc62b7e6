// Package worker defines the long-running background workers of the
// service.
package worker

import "context"

// Worker is a background task that runs until its context is cancelled
// or it runs out of work.
type Worker interface {
	// Start runs the worker. It blocks until the worker stops.
	Start(ctx context.Context)

	// Name returns the name of the worker.
	Name() string
}
