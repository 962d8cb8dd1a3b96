package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate users: %v", err)
	}
	for _, table := range dependentTables {
		if err := db.Exec("CREATE TABLE " + table + " (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL)").Error; err != nil {
			t.Fatalf("failed to create %s: %v", table, err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Hasher:   NewPasswordHasher(4),
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestStoreCreateRejectsDuplicateEmail(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	ctx := context.Background()

	if err := store.Create(ctx, &User{Email: "A@B.com", Username: "alice"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := store.Create(ctx, &User{Email: "a@b.com", Username: "alice-2"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}
	if !apperror.IsUniqueViolation(err) {
		t.Fatalf("expected the conflict to carry the unique violation, got %v", err)
	}

	found, err := store.FindByEmail(ctx, " a@B.COM ")
	if err != nil || found == nil {
		t.Fatalf("expected case-insensitive email lookup, got %v / %v", found, err)
	}
	if found.HasPassword() {
		t.Fatalf("user created without password must report no password")
	}
}

func TestStoreGetByIDReturnsNotFound(t *testing.T) {
	store := NewStore(openTestDatabase(t))

	_, err := store.GetByID(context.Background(), 42)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreDeleteRemovesDependentRows(t *testing.T) {
	db := openTestDatabase(t)
	store := NewStore(db)
	ctx := context.Background()

	user := &User{Email: "del@example.com", Username: "del"}
	if err := store.Create(ctx, user); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for _, table := range dependentTables {
		if err := db.Exec("INSERT INTO "+table+" (user_id) VALUES (?)", user.ID).Error; err != nil {
			t.Fatalf("seed %s failed: %v", table, err)
		}
	}

	if err := store.Delete(ctx, user.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	for _, table := range dependentTables {
		var count int64
		if err := db.Table(table).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			t.Fatalf("count %s failed: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected %s rows to be removed, found %d", table, count)
		}
	}
	if err := store.Delete(ctx, user.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
}

func TestServiceRegisterAndAuthenticate(t *testing.T) {
	service := newTestService(t, openTestDatabase(t))
	ctx := context.Background()

	user, err := service.Register(ctx, "bob@example.com", "bob", "correct horse")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !user.HasPassword() {
		t.Fatalf("registered user must have a password")
	}

	authenticated, err := service.Authenticate(ctx, "BOB@example.com", "correct horse")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if authenticated.ID != user.ID {
		t.Fatalf("authenticated the wrong user: %d != %d", authenticated.ID, user.ID)
	}

	if _, err := service.Authenticate(ctx, "bob@example.com", "wrong password"); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found for unknown email, got %v", err)
	}
	if _, err := service.Register(ctx, "carol@example.com", "carol", "short"); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error for short password, got %v", err)
	}
}

func TestServiceRejectsPasswordLoginForProviderAccounts(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)
	ctx := context.Background()

	providerUser := &User{Email: "spotify@example.com", Username: "Spotty"}
	if err := NewStore(db).Create(ctx, providerUser); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err := service.Authenticate(ctx, "spotify@example.com", "anything1")
	if apperror.Code(err) != "password_not_set" {
		t.Fatalf("expected password_not_set, got %v", err)
	}

	if err := service.SetPassword(ctx, providerUser.ID, "brand new password"); err != nil {
		t.Fatalf("set password failed: %v", err)
	}
	if _, err := service.Authenticate(ctx, "spotify@example.com", "brand new password"); err != nil {
		t.Fatalf("expected login with the new password, got %v", err)
	}
}
