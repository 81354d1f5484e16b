package service

import (
	"errors"
	"fmt"
)

var (
	ErrNoAPIKey          = errors.New("no api key stored for user")
	ErrFileTooLarge      = errors.New("file exceeds upload limit")
	ErrTranscriptExpired = errors.New("transcript expired or unknown")
	ErrEmptyTranscript   = errors.New("empty transcription")
	ErrInvalidCallback   = errors.New("invalid callback payload")
	ErrDownload          = errors.New("download media")
	ErrMenuConsumed      = errors.New("menu already consumed")
)

// UpstreamError marks a failed model call so the caller can label the reply.
type UpstreamError struct {
	Label string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Label, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
