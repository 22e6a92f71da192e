package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// RepositoryManager combines all repositories over a single durable store.
// It owns durability but no business rules: session transitions belong to
// the orchestrator and cache entry lifecycle to the clone cache.
type RepositoryManager interface {
	CallSession() *CallSessionRepository
	CloneEvent() *CloneEventRepository
	CloneCache() *CloneCacheRepository
	VoiceProfile() *VoiceProfileRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM.
type GormRepositoryManager struct {
	db               *gorm.DB
	callSessionRepo  *CallSessionRepository
	cloneEventRepo   *CloneEventRepository
	cloneCacheRepo   *CloneCacheRepository
	voiceProfileRepo *VoiceProfileRepository
}

// NewGormRepositoryManager creates a new GORM repository manager.
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:               db,
		callSessionRepo:  NewCallSessionRepository(db),
		cloneEventRepo:   NewCloneEventRepository(db),
		cloneCacheRepo:   NewCloneCacheRepository(db),
		voiceProfileRepo: NewVoiceProfileRepository(db),
	}
}

// NewRepositoryManager creates a repository manager with a database
// connection loaded from the environment and migrations applied.
func NewRepositoryManager() (RepositoryManager, error) {
	cfg := LoadDatabaseConfigFromEnv()
	db, err := NewDatabaseConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run auto migration: %w", err)
	}

	return NewGormRepositoryManager(db), nil
}

// CallSession returns the call session repository.
func (m *GormRepositoryManager) CallSession() *CallSessionRepository {
	return m.callSessionRepo
}

// CloneEvent returns the clone event repository.
func (m *GormRepositoryManager) CloneEvent() *CloneEventRepository {
	return m.cloneEventRepo
}

// CloneCache returns the clone cache entry repository.
func (m *GormRepositoryManager) CloneCache() *CloneCacheRepository {
	return m.cloneCacheRepo
}

// VoiceProfile returns the caller voice profile repository.
func (m *GormRepositoryManager) VoiceProfile() *VoiceProfileRepository {
	return m.voiceProfileRepo
}

// WithTx executes a function within a database transaction.
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection.
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
