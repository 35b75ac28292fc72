// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import "github.com/absmach/uplink/storage"

// Events receives advisory notifications from the delivery engine.
// Implementations must not block; delivery does not wait for them.
type Events interface {
	// ConnectionLost is emitted when the guard first observes the
	// transport down after having seen it up.
	ConnectionLost()

	// ConnectionRestored is emitted when the guard first observes the
	// transport up after having seen it down.
	ConnectionRestored()

	// DeliveryFailed is emitted after a failed publish has been
	// persisted for resend.
	DeliveryFailed(msg *storage.Message, cause error)
}

// nopEvents discards all notifications.
type nopEvents struct{}

func (nopEvents) ConnectionLost()                        {}
func (nopEvents) ConnectionRestored()                    {}
func (nopEvents) DeliveryFailed(*storage.Message, error) {}
