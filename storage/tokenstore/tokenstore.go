// Package tokenstore keeps the durable client state: the access token, the
// mirrored profile of the last session and the notification preference.
package tokenstore

import (
	"github.com/unihub/unihub/core/session"
)

// Store is the full durable-state contract.
type Store interface {
	session.TokenStore

	NotificationsEnabled() bool
	SetNotificationsEnabled(enabled bool) error

	// Clear removes every slot.
	Clear() error
}
