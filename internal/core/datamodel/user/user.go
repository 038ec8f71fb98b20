package user

import "time"

type User struct {
	ID               int64     `gorm:"primaryKey"`
	Email            string    `gorm:"column:email;uniqueIndex;not null"`
	Name             string    `gorm:"column:name;not null"`
	PasswordHash     string    `gorm:"column:password_hash;not null"`
	StripeCustomerID *string   `gorm:"column:stripe_customer_id;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
