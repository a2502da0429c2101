package types

import "time"

// User represents an account in the system.
// Accounts are immutable after creation: there is no update or
// delete surface, only registration and lookup.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the unique address the user registers and logs in with.
	Email string `json:"email" db:"email"`

	// IsActive indicates whether the account may authenticate.
	IsActive bool `json:"is_active" db:"is_active"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
