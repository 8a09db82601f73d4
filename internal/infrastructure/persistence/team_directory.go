package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/orderboard/internal/domain/order"
	"github.com/erp/orderboard/internal/domain/shared"
	"github.com/erp/orderboard/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTeamDirectory resolves leader to member relationships from the
// team_members table
type GormTeamDirectory struct {
	db *gorm.DB
}

// NewGormTeamDirectory creates a new GormTeamDirectory
func NewGormTeamDirectory(db *gorm.DB) *GormTeamDirectory {
	return &GormTeamDirectory{db: db}
}

// WithTx returns a directory bound to a transaction
func (r *GormTeamDirectory) WithTx(tx *gorm.DB) *GormTeamDirectory {
	return &GormTeamDirectory{db: tx}
}

// Migrate creates or updates the team_members table
func (r *GormTeamDirectory) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.TeamMemberModel{})
}

// MembersOf returns the ids of the active users reporting to leaderID,
// sorted. A leader with no reports yields an empty list.
func (r *GormTeamDirectory) MembersOf(ctx context.Context, leaderID string) ([]string, error) {
	if strings.TrimSpace(leaderID) == "" {
		return nil, fmt.Errorf("%w: leader id is required", shared.ErrInvalidInput)
	}
	ids := make([]string, 0)
	err := r.db.WithContext(ctx).
		Model(&models.TeamMemberModel{}).
		Where("leader_id = ? AND active = ?", leaderID, true).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load team members of %s: %w", leaderID, err)
	}
	return ids, nil
}

// FindByID returns a directory entry as a resolved user reference
func (r *GormTeamDirectory) FindByID(ctx context.Context, id string) (order.UserRef, error) {
	var model models.TeamMemberModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return order.UserRef{}, shared.ErrNotFound
		}
		return order.UserRef{}, err
	}
	return model.ToUserRef(), nil
}

// Upsert inserts or updates a directory entry keyed by id
func (r *GormTeamDirectory) Upsert(ctx context.Context, member *models.TeamMemberModel) error {
	if member.ID == "" {
		return fmt.Errorf("%w: member id is required", shared.ErrInvalidInput)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "role", "leader_id", "active", "updated_at"}),
	}).Create(member).Error
}
