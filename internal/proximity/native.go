package proximity

import (
	"context"
	"log/slog"

	"github.com/roamkit/roam/internal/track"
)

// LogNative stands in for the platform geofence API where none exists
// (the daemon, the CLI). Every activation succeeds; slot changes are
// visible in the log.
type LogNative struct {
	Log *slog.Logger
}

func (n LogNative) Activate(ctx context.Context, g track.Geofence) error {
	if n.Log != nil {
		n.Log.Debug("native slot activated", "identifier", g.Identifier)
	}
	return nil
}

func (n LogNative) Deactivate(ctx context.Context, identifier string) error {
	if n.Log != nil {
		n.Log.Debug("native slot released", "identifier", identifier)
	}
	return nil
}
