package models

import "time"

// User is the profile of an authenticated principal. Its id is the principal
// id issued by the identity provider. Users are never deleted; deactivation
// clears IsActive.
type User struct {
	Base
	Email              string     `gorm:"size:255" json:"email"`
	DisplayName        string     `gorm:"size:100" json:"displayName"`
	Locale             string     `gorm:"size:16;not null;default:'en-US'" json:"locale"`
	Currency           string     `gorm:"size:3;not null;default:'USD'" json:"currency"`
	Timezone           string     `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	EmailNotifications bool       `gorm:"not null;default:false" json:"emailNotifications"`
	PushNotifications  bool       `gorm:"not null;default:false" json:"pushNotifications"`
	BudgetAlerts       bool       `gorm:"not null;default:false" json:"budgetAlerts"`
	LastSeenAt         *time.Time `json:"lastSeenAt,omitempty"`
}

func (u *User) RoutingColumn() string { return RoutingByID }
func (u *User) RoutingKey() string    { return u.ID }
