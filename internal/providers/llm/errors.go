package llm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrNoProviders   = errors.New("no reasoning providers configured")
)

// ReasoningServiceError is a failed provider call.
type ReasoningServiceError struct {
	Provider string
	Err      error
}

func (e *ReasoningServiceError) Error() string {
	return fmt.Sprintf("reasoning service %s: %v", e.Provider, e.Err)
}

func (e *ReasoningServiceError) Unwrap() error { return e.Err }

func wrapErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	var rse *ReasoningServiceError
	if errors.As(err, &rse) {
		return err
	}
	return &ReasoningServiceError{Provider: provider, Err: err}
}

// checkText rejects blank completions.
func checkText(provider, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &ReasoningServiceError{Provider: provider, Err: ErrEmptyResponse}
	}
	return text, nil
}
