package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/abcauth/domain"
)

// ProfileRepository implements domain.ProfileStore using GORM
type ProfileRepository struct {
	db       *gorm.DB
	unsetIDs map[string]struct{}
}

// DBProfile represents the database model for UserProfile (with GORM tags)
type DBProfile struct {
	ID                   string    `gorm:"primaryKey;size:64"`
	Email                string    `gorm:"index;size:255"`
	HomeStoreID          string    `gorm:"column:home_store_id;size:32"`
	NotificationsEnabled bool      `gorm:"column:notifications_enabled"`
	CreatedAt            time.Time `gorm:"index"`
	UpdatedAt            time.Time
}

// TableName returns the table name for GORM
func (DBProfile) TableName() string {
	return "users"
}

// NewProfileRepository creates a profile repository. Home store values listed in
// unsetSentinels are read back as the empty string.
func NewProfileRepository(db *gorm.DB, unsetSentinels []string) *ProfileRepository {
	unset := make(map[string]struct{}, len(unsetSentinels))
	for _, s := range unsetSentinels {
		unset[s] = struct{}{}
	}
	return &ProfileRepository{db: db, unsetIDs: unset}
}

// Get implements domain.ProfileStore
func (r *ProfileRepository) Get(ctx context.Context, accountID string) (*domain.UserProfile, error) {
	var row DBProfile
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if err != nil {
		return nil, r.mapError(err)
	}
	return r.dbToDomain(&row), nil
}

// GetByEmail implements domain.ProfileStore
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*domain.UserProfile, error) {
	var row DBProfile
	err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&row).Error
	if err != nil {
		return nil, r.mapError(err)
	}
	return r.dbToDomain(&row), nil
}

// Create inserts a new row. An existing row with the same id is left untouched and
// reported as domain.ErrProfileAlreadyExists.
func (r *ProfileRepository) Create(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	row := r.domainToDB(profile)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(row)
	if result.Error != nil {
		return nil, r.mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrProfileAlreadyExists
	}
	return r.Get(ctx, profile.ID)
}

// Update implements domain.ProfileStore. Only the supplied fields change.
func (r *ProfileRepository) Update(ctx context.Context, accountID string, update domain.ProfileUpdate) (*domain.UserProfile, error) {
	if update.Empty() {
		return nil, domain.ErrNoFieldsProvided
	}

	fields := map[string]any{"updated_at": time.Now().UTC()}
	if update.Email != nil {
		fields["email"] = normalizeEmail(*update.Email)
	}
	if update.HomeStoreID != nil {
		fields["home_store_id"] = r.normalizeHomeStore(*update.HomeStoreID)
	}
	if update.NotificationsEnabled != nil {
		fields["notifications_enabled"] = *update.NotificationsEnabled
	}

	result := r.db.WithContext(ctx).Model(&DBProfile{}).Where("id = ?", accountID).Updates(fields)
	if result.Error != nil {
		return nil, r.mapError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrProfileNotFound
	}
	return r.Get(ctx, accountID)
}

// Upsert creates the row or replaces its mutable fields
func (r *ProfileRepository) Upsert(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	row := r.domainToDB(profile)
	row.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "home_store_id", "notifications_enabled", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return nil, r.mapError(err)
	}
	return r.Get(ctx, profile.ID)
}

// Delete implements domain.ProfileStore. Deleting a missing row is not an error.
func (r *ProfileRepository) Delete(ctx context.Context, accountID string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", accountID).Delete(&DBProfile{}).Error; err != nil {
		return r.mapError(err)
	}
	return nil
}

// EmailInUse reports whether another account already uses email
func (r *ProfileRepository) EmailInUse(ctx context.Context, email, exceptAccountID string) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&DBProfile{}).Where("email = ?", normalizeEmail(email))
	if exceptAccountID != "" {
		query = query.Where("id <> ?", exceptAccountID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, r.mapError(err)
	}
	return count > 0, nil
}

func (r *ProfileRepository) mapError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrProfileNotFound
	}
	return fmt.Errorf("%w: %v", domain.ErrProfileStore, err)
}

func (r *ProfileRepository) normalizeHomeStore(id string) string {
	id = strings.TrimSpace(id)
	if _, unset := r.unsetIDs[id]; unset {
		return ""
	}
	return id
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// domainToDB converts domain profile to database profile
func (r *ProfileRepository) domainToDB(profile *domain.UserProfile) *DBProfile {
	return &DBProfile{
		ID:                   profile.ID,
		Email:                normalizeEmail(profile.Email),
		HomeStoreID:          r.normalizeHomeStore(profile.HomeStoreID),
		NotificationsEnabled: profile.NotificationsEnabled,
		CreatedAt:            profile.CreatedAt,
		UpdatedAt:            profile.UpdatedAt,
	}
}

// dbToDomain converts database profile to domain profile
func (r *ProfileRepository) dbToDomain(row *DBProfile) *domain.UserProfile {
	return &domain.UserProfile{
		ID:                   row.ID,
		Email:                row.Email,
		HomeStoreID:          r.normalizeHomeStore(row.HomeStoreID),
		NotificationsEnabled: row.NotificationsEnabled,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

var _ domain.ProfileStore = (*ProfileRepository)(nil)
