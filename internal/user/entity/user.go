package entity

import "time"

// Roles a user may hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account row in the `users` table.
type User struct {
	ID           int64      `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	PasswordAlgo string     `db:"password_algo"`
	Name         string     `db:"name"`
	Role         string     `db:"role"`
	Organization *string    `db:"organization"`
	Phone        *string    `db:"phone"`
	Address      *string    `db:"address"`
	IsVerified   bool       `db:"is_verified"`
	IsActive     bool       `db:"is_active"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLogin    *time.Time `db:"last_login"`
}

// Profile is the client-facing projection of a User. It never carries
// credentials.
type Profile struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Organization *string    `json:"organization"`
	Phone        *string    `json:"phone"`
	Address      *string    `json:"address"`
	IsVerified   bool       `json:"is_verified"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
}

// Profile projects u for responses.
func (u *User) Profile() Profile {
	return Profile{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		Organization: u.Organization,
		Phone:        u.Phone,
		Address:      u.Address,
		IsVerified:   u.IsVerified,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

// ProfileUpdate lists the fields a user may change on their own record.
// Nil means "leave unchanged".
type ProfileUpdate struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=255"`
	Phone        *string `json:"phone" validate:"omitempty,max=20"`
	Address      *string `json:"address" validate:"omitempty,max=1000"`
	Organization *string `json:"organization" validate:"omitempty,max=255"`
}

// Empty reports whether no field is set.
func (p ProfileUpdate) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.Address == nil && p.Organization == nil
}
