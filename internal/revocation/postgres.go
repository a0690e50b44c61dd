package revocation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevokedToken is a revoked token id. ExpiresAt is nil for tokens revoked forever.
type RevokedToken struct {
	JTI       string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
	ExpiresAt *time.Time `gorm:"index"`
}

// SubjectEpoch holds the refresh-token epoch of one subject.
type SubjectEpoch struct {
	Subject   string `gorm:"primaryKey;size:128"`
	Epoch     int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// PostgresStore implements Store on top of gorm.
type PostgresStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates the revocation tables.
func (p *PostgresStore) Migrate() error {
	return p.db.AutoMigrate(&RevokedToken{}, &SubjectEpoch{})
}

func (p *PostgresStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return nil
	}
	row := RevokedToken{JTI: jti, CreatedAt: p.now().UTC()}
	if !until.IsZero() {
		u := until.UTC()
		row.ExpiresAt = &u
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "jti"}}, DoUpdates: clause.AssignmentColumns([]string{"expires_at"})}).
		Create(&row).Error
}

func (p *PostgresStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var row RevokedToken
	err := p.db.WithContext(ctx).Where("jti = ?", jti).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if row.ExpiresAt != nil && !p.now().Before(*row.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) Epoch(ctx context.Context, sub string) (int64, error) {
	var row SubjectEpoch
	err := p.db.WithContext(ctx).Where("subject = ?", sub).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Epoch, nil
}

// BumpEpoch increments the subject's epoch in a single upsert so concurrent first bumps
// cannot both insert.
func (p *PostgresStore) BumpEpoch(ctx context.Context, sub string) (int64, error) {
	row := SubjectEpoch{Subject: sub, Epoch: 1, UpdatedAt: p.now().UTC()}
	err := p.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "subject"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"epoch":      gorm.Expr("subject_epochs.epoch + 1"),
					"updated_at": row.UpdatedAt,
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "epoch"}}},
		).
		Create(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Epoch, nil
}

// PurgeExpired removes revocation rows whose token would have expired anyway.
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", p.now().UTC()).Delete(&RevokedToken{})
	return res.RowsAffected, res.Error
}
