package models

import (
	"time"

	"github.com/erp/orderboard/internal/domain/order"
)

// TeamMemberModel is a row of the user directory: who a user is and which
// leader they report to
type TeamMemberModel struct {
	ID          string    `gorm:"type:varchar(64);primary_key"`
	DisplayName string    `gorm:"type:varchar(200);not null"`
	Role        string    `gorm:"type:varchar(64);not null"`
	LeaderID    *string   `gorm:"type:varchar(64);index"`
	Active      bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TeamMemberModel) TableName() string {
	return "team_members"
}

// ToUserRef converts the row to a resolved user reference
func (m *TeamMemberModel) ToUserRef() order.UserRef {
	return order.UserRef{ID: m.ID, DisplayName: m.DisplayName, Resolved: m.DisplayName != ""}
}
