package proxy

import "github.com/rs/zerolog"

// newConnLogger creates a child logger scoped to one ingress connection,
// mirroring the teacher's pattern of attaching per-request fields to a base
// logger rather than logging flat messages.
func newConnLogger(base zerolog.Logger, remoteAddr string) zerolog.Logger {
	return base.With().Str("remoteAddr", remoteAddr).Logger()
}
