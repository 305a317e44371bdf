package dispatch

import "auctionhouse/auth"

// Caller identifies the authenticated user behind a trigger, as resolved
// from a verified token.
type Caller struct {
	UserID string
	Role   auth.Role
}
