package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/links"
	"github.com/HugoGarrigues/MusicSwipe/internal/ratings"
	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesEmailsAndRemovesOrphans(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDatabase, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDatabase.SetMaxOpenConns(1)
	if err := database.Exec("PRAGMA foreign_keys = OFF").Error; err != nil {
		testContext.Fatalf("failed to disable foreign keys: %v", err)
	}
	if err := database.AutoMigrate(&users.User{}, &links.OAuthLink{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	if err := database.Exec("CREATE TABLE ratings (id INTEGER PRIMARY KEY, user_id INTEGER)").Error; err != nil {
		testContext.Fatalf("failed to create ratings: %v", err)
	}
	if err := database.Exec("CREATE TABLE likes (id INTEGER PRIMARY KEY, user_id INTEGER)").Error; err != nil {
		testContext.Fatalf("failed to create likes: %v", err)
	}

	user := users.User{Email: " Mixed@Example.COM", Username: "mixed"}
	if err := database.Create(&user).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}
	kept := links.OAuthLink{UserID: user.ID, Provider: links.ProviderSpotify, ProviderUserID: "kept"}
	orphan := links.OAuthLink{UserID: user.ID + 100, Provider: links.ProviderSpotify, ProviderUserID: "orphan"}
	if err := database.Create(&kept).Error; err != nil {
		testContext.Fatalf("failed to insert link: %v", err)
	}
	if err := database.Create(&orphan).Error; err != nil {
		testContext.Fatalf("failed to insert orphan link: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored users.User
	if err := database.Where("id = ?", user.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if stored.Email != "mixed@example.com" {
		testContext.Fatalf("expected normalized email, got %q", stored.Email)
	}

	var linkCount int64
	if err := database.Model(&links.OAuthLink{}).Count(&linkCount).Error; err != nil {
		testContext.Fatalf("failed to count links: %v", err)
	}
	if linkCount != 1 {
		testContext.Fatalf("expected orphaned link to be removed, %d links left", linkCount)
	}

	for _, name := range []string{migrationLowercaseUserEmails, migrationRemoveOrphanedRows} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set for %s", name)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-running migrations must be a no-op: %v", err)
	}
}

func TestOpenMigratesSchema(testContext *testing.T) {
	database, err := Open(DriverSQLite, filepath.Join(testContext.TempDir(), "open.db"), nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"users", "oauth_links", "tracks", "ratings", "likes", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
	if database.Config.Logger != silentGormLogger {
		testContext.Fatalf("expected gorm logging to be silenced")
	}
}

func TestDialectorRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Dialector("mysql", "dsn"); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	dialector, err := Dialector("Postgres", "postgres://localhost/musicswipe")
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if dialector.Name() != DriverPostgres {
		testContext.Fatalf("unexpected dialector %s", dialector.Name())
	}
}

func TestLowercaseEmailsReportsCaseCollisions(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "collision.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.User{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	for _, user := range []users.User{
		{Email: "Dup@Example.com", Username: "first"},
		{Email: "dup@example.com", Username: "second"},
	} {
		if err := database.Create(&user).Error; err != nil {
			testContext.Fatalf("failed to insert user: %v", err)
		}
	}

	err = applyMigrations(database, zap.NewNop())
	if err == nil {
		testContext.Fatalf("expected case collision to abort the migration")
	}
	if !strings.Contains(err.Error(), "dup@example.com (2 accounts)") {
		testContext.Fatalf("expected colliding email in error, got %v", err)
	}
	var applied int64
	if err := database.Model(&migrationRecord{}).Where("name = ?", migrationLowercaseUserEmails).Count(&applied).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if applied != 0 {
		testContext.Fatalf("failed migration must not be recorded")
	}
}

func TestOpenEnforcesUserForeignKeys(testContext *testing.T) {
	database, err := Open(DriverSQLite, filepath.Join(testContext.TempDir(), "foreign.db"), nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()

	user := users.User{Email: "owner@example.com", Username: "owner"}
	if err := database.Create(&user).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}
	track := tracks.Track{Title: "Song"}
	if err := database.Create(&track).Error; err != nil {
		testContext.Fatalf("failed to insert track: %v", err)
	}
	if _, err := links.NewStore(database).Create(ctx, user.ID, links.ProviderSpotify, "spotify_owner", links.Tokens{AccessToken: "a"}); err != nil {
		testContext.Fatalf("failed to create link: %v", err)
	}
	if err := database.Create(&ratings.Rating{UserID: user.ID, TrackID: track.ID, Score: 4}).Error; err != nil {
		testContext.Fatalf("failed to insert rating: %v", err)
	}

	if err := database.Create(&ratings.Like{UserID: user.ID + 100, TrackID: track.ID}).Error; err == nil {
		testContext.Fatalf("expected like for unknown user to violate the foreign key")
	}

	if err := database.Exec("DELETE FROM users WHERE id = ?", user.ID).Error; err != nil {
		testContext.Fatalf("failed to delete user: %v", err)
	}
	var remaining int64
	for _, model := range []interface{}{&links.OAuthLink{}, &ratings.Rating{}} {
		if err := database.Model(model).Count(&remaining).Error; err != nil {
			testContext.Fatalf("failed to count rows: %v", err)
		}
		if remaining != 0 {
			testContext.Fatalf("expected rows of %T to cascade with their user, %d left", model, remaining)
		}
	}

	_, err = links.NewStore(database).Create(ctx, user.ID, links.ProviderSpotify, "spotify_ghost", links.Tokens{AccessToken: "b"})
	if !errors.Is(err, apperror.ErrNotFound) {
		testContext.Fatalf("expected link for deleted user to be rejected, got %v", err)
	}
}

func TestWithSQLiteForeignKeys(testContext *testing.T) {
	cases := map[string]string{
		"musicswipe.db":                      "musicswipe.db?_pragma=foreign_keys(1)",
		"file:test?mode=memory&cache=shared": "file:test?mode=memory&cache=shared&_pragma=foreign_keys(1)",
		"app.db?_pragma=foreign_keys(0)":     "app.db?_pragma=foreign_keys(0)",
	}
	for input, expected := range cases {
		if actual := withSQLiteForeignKeys(input); actual != expected {
			testContext.Fatalf("withSQLiteForeignKeys(%q) = %q, want %q", input, actual, expected)
		}
	}
}
