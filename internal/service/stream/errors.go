package stream

import "errors"

var (
	ErrEmptyURL        = errors.New("stream: empty url")
	ErrStreamEnded     = errors.New("stream: closed by server")
	ErrInvalidEncoding = errors.New("stream: payload is not valid utf-8")
)
