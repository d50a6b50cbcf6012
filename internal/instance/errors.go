package instance

import "errors"

var (
	// ErrAlreadyActive is returned by Launch when the instance already has
	// a live child process.
	ErrAlreadyActive = errors.New("instance: already active")
	// ErrNotActive is returned by Stop/Stuff/Chat when no child process
	// exists.
	ErrNotActive = errors.New("instance: not active")
	// ErrReadyTimeout is surfaced when startup_timeout elapses before the
	// ready pattern is observed.
	ErrReadyTimeout = errors.New("instance: ready timeout")
	// ErrShutdownTimeout names the case where shutdown_timeout elapses
	// before the child exits after a stop request. Stop does not return
	// it: on that timeout Stop logs a warning and kills the child.
	ErrShutdownTimeout = errors.New("instance: shutdown timeout")
	// ErrSpawnFailed wraps a failure to launch the child process.
	ErrSpawnFailed = errors.New("instance: spawn failed")
)
