package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationLowercaseUserEmails = "2026-09-14_lowercase_user_emails"
	migrationRemoveOrphanedRows  = "2026-09-14_remove_orphaned_user_rows"
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
	{name: migrationLowercaseUserEmails, apply: lowercaseUserEmails},
	{name: migrationRemoveOrphanedRows, apply: removeOrphanedUserRows},
}

// applyMigrations runs each named migration once, inside its own transaction.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var applied int64
		if err := db.Model(&migrationRecord{}).Where("name = ?", migration.name).Count(&applied).Error; err != nil {
			return err
		}
		if applied > 0 {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// lowercaseUserEmails refuses to run while two accounts share an email up to
// case, since the unique index would reject the update.
func lowercaseUserEmails(db *gorm.DB) error {
	var collisions []emailCollision
	err := db.Raw("SELECT LOWER(TRIM(email)) AS email, COUNT(*) AS accounts FROM users GROUP BY LOWER(TRIM(email)) HAVING COUNT(*) > 1 ORDER BY 1").
		Scan(&collisions).Error
	if err != nil {
		return err
	}
	if len(collisions) > 0 {
		emails := make([]string, 0, len(collisions))
		for _, collision := range collisions {
			emails = append(emails, fmt.Sprintf("%s (%d accounts)", collision.Email, collision.Accounts))
		}
		return fmt.Errorf("users share an email that differs only in case, merge them first: %s", strings.Join(emails, ", "))
	}
	return db.Exec("UPDATE users SET email = LOWER(TRIM(email)) WHERE email <> LOWER(TRIM(email))").Error
}

type emailCollision struct {
	Email    string
	Accounts int64
}

func removeOrphanedUserRows(db *gorm.DB) error {
	if !db.Migrator().HasTable("users") {
		return nil
	}
	for _, table := range []string{"oauth_links", "ratings", "likes"} {
		if !db.Migrator().HasTable(table) {
			continue
		}
		if err := db.Exec("DELETE FROM " + table + " WHERE user_id NOT IN (SELECT id FROM users)").Error; err != nil {
			return err
		}
	}
	return nil
}
