package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrEmptySymbol       = errors.New("symbol is required")
	ErrBusy              = errors.New("a subscription change is already in progress")
	ErrAlreadySubscribed = errors.New("already subscribed; unsubscribe first")
	ErrNotSubscribed     = errors.New("no active subscription")
	ErrReleased          = errors.New("session released while the request was in flight")
)

// RejectedError is a backend refusal, for example an untradable symbol.
type RejectedError struct {
	Symbol  string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("backend rejected request: %s", e.Message)
	}
	return fmt.Sprintf("backend rejected %s: %s", e.Symbol, e.Message)
}
