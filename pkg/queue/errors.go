package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrHandlerNil is returned when registering a nil handler
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrEntrypointEmpty is returned when registering a handler with an empty name
	ErrEntrypointEmpty = errors.New("entrypoint name cannot be empty")

	// ErrDuplicateEntrypoint is returned when an entrypoint name is already bound
	ErrDuplicateEntrypoint = errors.New("entrypoint already registered")

	// ErrUnknownEntrypoint is returned when no handler is registered for an entrypoint
	ErrUnknownEntrypoint = errors.New("no handler registered for entrypoint")

	// ErrNoEntrypoints is returned when the manager is started with an empty registry
	ErrNoEntrypoints = errors.New("no entrypoints registered")

	// ErrAlreadyRunning is returned when Run is called on a manager that is already running
	ErrAlreadyRunning = errors.New("manager is already running")

	// ErrLengthMismatch is returned when batch enqueue inputs differ in length
	ErrLengthMismatch = errors.New("entrypoints, payloads and priorities must have equal length")

	// ErrNothingToEnqueue is returned when batch enqueue is called with no jobs
	ErrNothingToEnqueue = errors.New("no jobs to enqueue")

	// ErrJobNotRunning is returned when looking up the execution context of a
	// job that is not currently dispatched
	ErrJobNotRunning = errors.New("job is not currently dispatched")

	// ErrScopedCancellationUnsupported is returned when a blocking handler
	// attempts to enter a cancellation guarded region
	ErrScopedCancellationUnsupported = errors.New("scoped cancellation is not supported for blocking handlers")

	// ErrCanceled is returned from a guarded region interrupted by a
	// cancellation request
	ErrCanceled = errors.New("job execution canceled")

	// ErrJobNotFound is returned by stores when a job id does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrNegativeTail is returned when statistics are requested with a
	// negative tail window
	ErrNegativeTail = errors.New("tail must not be negative")
)
