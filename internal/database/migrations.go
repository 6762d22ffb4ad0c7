package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/diagram"
	"github.com/MarcoPoloResearchLab/inadialog/backend/internal/docstore"
)

const (
	migrationBackfillDiagramVisibility = "2026-10-01_backfill_diagram_visibility"
	migrationRenameLegacyShapeType     = "2026-10-02_rename_legacy_shape_type"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationBackfillDiagramVisibility, apply: backfillDiagramVisibility},
	{name: migrationRenameLegacyShapeType, apply: renameLegacyShapeType},
}

func applyMigrations(db *gorm.DB, clock func() time.Time, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: clock().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// Rows written before visibility existed default to public.
func backfillDiagramVisibility(db *gorm.DB) error {
	return db.Model(&docstore.Document{}).
		Where("visibility = ''").
		Update("visibility", string(diagram.VisibilityPublic)).Error
}

func renameLegacyShapeType(db *gorm.DB) error {
	return db.Exec(
		"UPDATE diagrams SET document = REPLACE(document, ?, ?) WHERE document LIKE ?",
		`"type":"rectange"`, `"type":"rectangle"`, `%"type":"rectange"%`,
	).Error
}
