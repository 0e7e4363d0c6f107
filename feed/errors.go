package feed

import "errors"

// errSubscriptionClosed ends a feed whose pub/sub connection went away.
var errSubscriptionClosed = errors.New("feed: subscription closed")

// IsTerminated reports whether err marks an underlying subscription loss
// rather than a caller-driven cancellation.
func IsTerminated(err error) bool {
	return errors.Is(err, errSubscriptionClosed)
}
