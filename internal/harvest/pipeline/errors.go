package pipeline

import "errors"

var (
	// ErrUnfetchable means neither direct HTTP, rendering nor a best-effort body produced a page
	ErrUnfetchable = errors.New("page unfetchable")

	// ErrSinkFailed wraps sink emission errors; it is the only error that fails a run
	ErrSinkFailed = errors.New("sink emission failed")
)
