package users

import "time"

const (
	RoleCustomer = "CUSTOMER"
	RoleMerchant = "MERCHANT"
	RoleDriver   = "DRIVER"
	RoleAdmin    = "ADMIN"
)

type User struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
