package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"livebid/auction"
	"livebid/models"
)

// Config 是連線 Postgres 所需的設定
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

func (c Config) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
	if c.Schema != "" {
		dsn += "&search_path=" + c.Schema
	}
	return dsn
}

// Open 建立 gorm 連線，重複鍵等錯誤會被轉換成 gorm 的錯誤類型
func Open(dsn string, tablePrefix string) (*gorm.DB, error) {
	const op = "database.Open"
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: tablePrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}
	return db, nil
}

// UserStore 實現了 auction.IUserStore
type UserStore struct {
	db *gorm.DB
}

var _ auction.IUserStore = (*UserStore)(nil)

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Migrate 建立或更新 users 資料表
func (s *UserStore) Migrate(ctx context.Context) error {
	const op = "database.UserStore.Migrate"
	if err := s.db.WithContext(ctx).AutoMigrate(&models.User{}); err != nil {
		return fmt.Errorf("%s: failed to migrate: %w", op, err)
	}
	return nil
}

func (s *UserStore) Create(ctx context.Context, registration auction.Registration) (auction.User, error) {
	const op = "database.UserStore.Create"
	record := models.User{
		Name:         registration.Name,
		Email:        registration.Email,
		Username:     registration.Username,
		PasswordHash: registration.PasswordHash,
		Latitude:     registration.Latitude,
		Longitude:    registration.Longitude,
	}
	if result := s.db.WithContext(ctx).Create(&record); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return auction.User{}, fmt.Errorf("%s: %w", op, auction.ErrUserExists)
		}
		return auction.User{}, fmt.Errorf("%s: failed to create user: %w", op, result.Error)
	}
	return toUser(record), nil
}

func (s *UserStore) Credentials(ctx context.Context, username string) (auction.User, string, error) {
	record, err := s.find(ctx, "database.UserStore.Credentials", username)
	if err != nil {
		return auction.User{}, "", err
	}
	return toUser(record), record.PasswordHash, nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (auction.User, error) {
	record, err := s.find(ctx, "database.UserStore.GetByUsername", username)
	if err != nil {
		return auction.User{}, err
	}
	return toUser(record), nil
}

func (s *UserStore) find(ctx context.Context, op, username string) (models.User, error) {
	var record models.User
	result := s.db.WithContext(ctx).Where("username = ?", username).First(&record)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return record, fmt.Errorf("%s: %w", op, auction.ErrUserNotFound)
	}
	if result.Error != nil {
		return record, fmt.Errorf("%s: failed to find user: %w", op, result.Error)
	}
	return record, nil
}

func (s *UserStore) List(ctx context.Context) ([]auction.User, error) {
	const op = "database.UserStore.List"
	var records []models.User
	if result := s.db.WithContext(ctx).Order("created_at").Find(&records); result.Error != nil {
		return nil, fmt.Errorf("%s: failed to list users: %w", op, result.Error)
	}
	return lo.Map(records, func(record models.User, _ int) auction.User {
		return toUser(record)
	}), nil
}

func (s *UserStore) SetOnline(ctx context.Context, username string, online bool) error {
	const op = "database.UserStore.SetOnline"
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Update("online", online)
	if result.Error != nil {
		return fmt.Errorf("%s: failed to update user: %w", op, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, auction.ErrUserNotFound)
	}
	return nil
}

func toUser(record models.User) auction.User {
	return auction.User{
		ID:        record.ID.String(),
		Name:      record.Name,
		Email:     record.Email,
		Username:  record.Username,
		Latitude:  record.Latitude,
		Longitude: record.Longitude,
		Online:    record.Online,
	}
}
