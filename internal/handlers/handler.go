// Package handlers exposes terminal sessions over HTTP: a WebSocket
// streaming endpoint and a JSON control surface.
package handlers

import (
	"context"
	"regexp"

	"github.com/jshsakura/oc-terminal-list/internal/auth"
	"github.com/jshsakura/oc-terminal-list/internal/database"
	"github.com/jshsakura/oc-terminal-list/internal/terminal"
	"github.com/rs/zerolog"
)

// RecordStore is the durable session record surface used by the handlers.
type RecordStore interface {
	ListSessions(ctx context.Context, owner string) ([]database.SessionRecord, error)
	Ping(ctx context.Context) error
}

// Handler carries the dependencies of every endpoint.
type Handler struct {
	Sessions *terminal.Manager
	Records  RecordStore
	Auth     auth.Resolver
	Log      zerolog.Logger

	// AuthRequired rejects WebSocket connections without a valid token
	// instead of running them as Anonymous.
	AuthRequired bool
	Anonymous    string
	// OriginPatterns restricts WebSocket origins; "*" accepts any.
	OriginPatterns []string
	// OutboundQueue bounds the live chunks buffered per connection.
	OutboundQueue int
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
