package archiveindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coldroot-labs/barc/internal/job"
)

// archiveRow is the gorm model backing the sqlite adapter, mirroring
// Archive but with the column types gorm/sqlite are comfortable with.
type archiveRow struct {
	ID          string `gorm:"primaryKey"`
	JobUUID     string `gorm:"index"`
	ArchiveType int    `gorm:"index"`
	CreatedAt   int64  `gorm:"index"` // unix seconds, for cheap newest-first ordering
	Path        string
	SizeBytes   int64
}

func (archiveRow) TableName() string { return "archives" }

// SQLiteIndex is the sole concrete Index backend: pure-Go sqlite via
// modernc.org/sqlite (no cgo), schema-managed by golang-migrate,
// queried through gorm — the same stack the reference internal/db
// package uses for its own store, repurposed here for the archive index
// contract (DESIGN.md: one backend suffices for this narrow contract).
type SQLiteIndex struct {
	db *gorm.DB
}

// OpenSQLiteIndex opens (creating if necessary) a sqlite database at path
// and runs pending migrations from migrationsDir.
func OpenSQLiteIndex(path string, migrationsDir string) (*SQLiteIndex, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archiveindex: open sqlite %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("archiveindex: underlying sql.DB: %w", err)
	}
	if err := runMigrations(sqlDB, migrationsDir); err != nil {
		return nil, err
	}

	return &SQLiteIndex{db: db}, nil
}

func runMigrations(sqlDB *sql.DB, migrationsDir string) error {
	driver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("archiveindex: migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("archiveindex: migration source: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archiveindex: running migrations: %w", err)
	}
	return nil
}

func toArchive(r archiveRow) Archive {
	return Archive{
		ID:          r.ID,
		JobUUID:     r.JobUUID,
		ArchiveType: job.ArchiveType(r.ArchiveType),
		CreatedAt:   time.Unix(r.CreatedAt, 0).UTC(),
		Path:        r.Path,
		SizeBytes:   r.SizeBytes,
	}
}

func (s *SQLiteIndex) ListByJobAndType(ctx context.Context, jobUUID string, t job.ArchiveType) ([]Archive, error) {
	var rows []archiveRow
	err := s.db.WithContext(ctx).
		Where("job_uuid = ? AND archive_type = ?", jobUUID, int(t)).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("archiveindex: list: %w", err)
	}
	out := make([]Archive, len(rows))
	for i, r := range rows {
		out[i] = toArchive(r)
	}
	return out, nil
}

func (s *SQLiteIndex) Insert(ctx context.Context, a Archive) error {
	row := archiveRow{
		ID:          a.ID,
		JobUUID:     a.JobUUID,
		ArchiveType: int(a.ArchiveType),
		CreatedAt:   a.CreatedAt.Unix(),
		Path:        a.Path,
		SizeBytes:   a.SizeBytes,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("archiveindex: insert: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Move(ctx context.Context, id string, newPath string) error {
	res := s.db.WithContext(ctx).Model(&archiveRow{}).Where("id = ?", id).Update("path", newPath)
	if res.Error != nil {
		return fmt.Errorf("archiveindex: move: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteIndex) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&archiveRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("archiveindex: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
