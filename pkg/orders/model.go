package orders

import (
	"errors"
	"time"
)

var ErrOrderNotFound = errors.New("order not found")

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusPaid       Status = "PAID"
	StatusPreparing  Status = "PREPARING"
	StatusReady      Status = "READY"
	StatusOnDelivery Status = "ON_DELIVERY"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Order is the slice of the order lifecycle the chat subsystem reads.
// It is owned by the order service.
type Order struct {
	ID              string    `json:"id"`
	Status          Status    `json:"status"`
	UserID          string    `json:"user_id"`
	MerchantOwnerID string    `json:"merchant_owner_id"`
	DriverUserID    *string   `json:"driver_user_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is the customer, the merchant owner
// or the assigned driver of the order.
func (o Order) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	if o.UserID == userID || o.MerchantOwnerID == userID {
		return true
	}
	return o.DriverUserID != nil && *o.DriverUserID == userID
}
