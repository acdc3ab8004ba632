// Package notification is the outbound-message boundary of the identity
// service. The service consumes the Notifier interface and never learns
// about the transport; success means "accepted by transport", not "read by
// the recipient".
package notification

import "context"

// Notifier dispatches identity-lifecycle messages. Both methods return the
// message identifier assigned to the dispatched mail.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code string) (string, error)
	SendPasswordReset(ctx context.Context, to, tempPassword string) (string, error)
}
