// Package policy decides whether a chat room may be opened or written to,
// given the room type and the state of the order it is attached to.
package policy

import (
	"fmt"
	"time"

	"marketchat/pkg/orders"
)

type RoomType string

const (
	RoomCustomerMerchant RoomType = "CUSTOMER_MERCHANT"
	RoomCustomerDriver   RoomType = "CUSTOMER_DRIVER"
	RoomCustomerSupport  RoomType = "CUSTOMER_SUPPORT"
)

// DefaultDriverGrace is how long a driver chat stays open after the order completes.
const DefaultDriverGrace = 15 * time.Minute

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Evaluator holds the tunable windows of the access policy. The zero value
// has no grace windows at all; use Default for production settings.
type Evaluator struct {
	// DriverGrace keeps CUSTOMER_DRIVER open after COMPLETED.
	DriverGrace time.Duration
	// MerchantGrace keeps CUSTOMER_MERCHANT open after the order leaves READY
	// for ON_DELIVERY. Zero disables it.
	MerchantGrace time.Duration
}

func Default() Evaluator {
	return Evaluator{DriverGrace: DefaultDriverGrace}
}

// Evaluate applies the default policy.
func Evaluate(roomType RoomType, status orders.Status, now, orderUpdatedAt time.Time) Decision {
	return Default().Evaluate(roomType, status, now, orderUpdatedAt)
}

func (e Evaluator) Evaluate(roomType RoomType, status orders.Status, now, orderUpdatedAt time.Time) Decision {
	switch roomType {
	case RoomCustomerMerchant:
		switch status {
		case orders.StatusPaid, orders.StatusPreparing, orders.StatusReady:
			return allow()
		case orders.StatusOnDelivery:
			if withinGrace(e.MerchantGrace, now, orderUpdatedAt) {
				return allow()
			}
		}
		return deny(fmt.Sprintf("merchant chat is only available while the order is paid, preparing or ready (order is %s)", status))

	case RoomCustomerDriver:
		switch status {
		case orders.StatusOnDelivery:
			return allow()
		case orders.StatusCompleted:
			if withinGrace(e.DriverGrace, now, orderUpdatedAt) {
				return allow()
			}
			return deny("driver chat closed after delivery grace period")
		}
		return deny(fmt.Sprintf("driver chat is only available while the order is on delivery (order is %s)", status))

	case RoomCustomerSupport:
		return allow()
	}

	// Unknown room types are not gated here.
	return allow()
}

func withinGrace(grace time.Duration, now, since time.Time) bool {
	if grace <= 0 || since.IsZero() {
		return false
	}
	return now.Sub(since) <= grace
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
