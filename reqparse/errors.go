package reqparse

import "errors"

var (
	// ErrIncomplete means the peer closed the connection (EOF) before the
	// header terminator was seen.
	ErrIncomplete = errors.New("reqparse: incomplete request")

	// ErrHeadersTooLarge means MaxHeaderBytes was exhausted before the
	// header terminator was seen.
	ErrHeadersTooLarge = errors.New("reqparse: headers too large")
)
