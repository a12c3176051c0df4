package chrome

import "errors"

// Render errors. The pipeline treats all of them as "page unfetchable".
var (
	ErrRenderTimeout    = errors.New("render navigation timed out")
	ErrNavigateFailed   = errors.New("navigation failed")
	ErrExtractHTML      = errors.New("HTML extraction failed")
	ErrResponseTooLarge = errors.New("response exceeds maximum size limit")
)

// Pool errors
var (
	ErrPoolShutdown  = errors.New("pool is shutting down")
	ErrInstanceDead  = errors.New("chrome instance is dead")
	ErrRestartFailed = errors.New("chrome restart failed")
)
