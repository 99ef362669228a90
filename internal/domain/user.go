package domain

import (
	"time"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type User struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	Name              string    `json:"name"`
	Email             string    `json:"email" gorm:"uniqueIndex"`
	Password          string    `json:"-"` // Hashed password
	Role              UserRole  `json:"role"`
	Status            string    `json:"status"` // Active, Inactive, Blocked
	OriginCountry     string    `json:"origin_country,omitempty"`
	PreferredLanguage string    `json:"preferred_language" gorm:"default:en"`
	Tier              string    `json:"tier" gorm:"default:free"`
	StripeCustomerID  string    `json:"-" gorm:"index"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
