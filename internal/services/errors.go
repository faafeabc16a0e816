package services

import "errors"

// Run service errors
var (
	// Queue errors
	ErrQueueFull    = errors.New("run queue is full")
	ErrQueueStopped = errors.New("run queue is stopped")

	// Run errors
	ErrRunNotFinished = errors.New("run has not finished")
	ErrRunNotActive   = errors.New("run is not queued or running")
)
