// Package pgstore keeps the survey roster in Postgres.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	gschema "gorm.io/gorm/schema"

	"pkt.systems/expertsurvey/schema"
	"pkt.systems/pslog"
)

// Config selects the database and query logging.
type Config struct {
	DSN string
	// LogLevel is one of silent, error, warn, info.
	LogLevel string
	// SlowThreshold marks queries logged as slow.
	SlowThreshold time.Duration
}

// Store implements the roster store on gorm.
type Store struct {
	db  *gorm.DB
	log pslog.Logger
}

// Open connects to Postgres and migrates the roster tables.
func Open(ctx context.Context, cfg Config, log pslog.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.New(gormWriter{log: log}, logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NamingStrategy: gschema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := New(ctx, db, log)
	if err != nil {
		return nil, err
	}
	log.Info("pgstore open ok")
	return store, nil
}

// New wraps an existing connection and migrates the roster tables.
func New(ctx context.Context, db *gorm.DB, log pslog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	if err := db.WithContext(ctx).AutoMigrate(&rosterMeta{}, &rosterRow{}); err != nil {
		return nil, fmt.Errorf("migrate roster tables: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load reads the roster. It reports false when nothing was imported yet.
func (s *Store) Load(ctx context.Context) (schema.Roster, bool, error) {
	db := s.db.WithContext(ctx)
	var meta rosterMeta
	if err := db.First(&meta, metaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Debug("pgstore load miss")
			return schema.Roster{}, false, nil
		}
		return schema.Roster{}, false, fmt.Errorf("load roster header: %w", err)
	}
	columns, err := decodeColumns(meta.Columns)
	if err != nil {
		return schema.Roster{}, false, err
	}
	var rows []rosterRow
	if err := db.Order("ordinal asc").Find(&rows).Error; err != nil {
		return schema.Roster{}, false, fmt.Errorf("load roster rows: %w", err)
	}
	out := schema.Roster{Columns: columns, Rows: make([]map[string]string, 0, len(rows))}
	for i, r := range rows {
		if r.Ordinal != i+1 {
			return schema.Roster{}, false, fmt.Errorf("roster row %d missing", i+1)
		}
		cells, err := decodeRow(r)
		if err != nil {
			return schema.Roster{}, false, err
		}
		out.Rows = append(out.Rows, cells)
	}
	s.log.Debug("pgstore load ok", "rows", len(out.Rows))
	return out, true, nil
}

// Replace swaps the whole roster in one transaction.
func (s *Store) Replace(ctx context.Context, table schema.Roster) error {
	columns, err := encodeColumns(table.Columns)
	if err != nil {
		return err
	}
	rows := make([]rosterRow, 0, table.Len())
	for i, cells := range table.Rows {
		r, err := encodeRow(schema.Row(i+1), cells)
		if err != nil {
			return err
		}
		rows = append(rows, r)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&rosterRow{}).Error; err != nil {
			return err
		}
		meta := rosterMeta{ID: metaID, Columns: columns, RowCount: len(rows)}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 500).Error
	})
	if err != nil {
		s.log.Warn("pgstore replace failed", "err", err)
		return fmt.Errorf("replace roster: %w", err)
	}
	s.log.Info("pgstore replace ok", "rows", len(rows))
	return nil
}

// SaveRow updates a single row.
func (s *Store) SaveRow(ctx context.Context, row schema.Row, cells map[string]string) error {
	encoded, err := encodeRow(row, cells)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&rosterRow{}).Where("ordinal = ?", int(row)).Updates(map[string]any{
		"cells":      encoded.Cells,
		"claimed_by": encoded.ClaimedBy,
		"reviewer":   encoded.Reviewer,
		"submitted":  encoded.Submitted,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		s.log.Warn("pgstore save row failed", "row", int(row), "err", result.Error)
		return fmt.Errorf("save row %d: %w", row, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("row %d: %w", row, schema.ErrNotFound)
	}
	s.log.Trace("pgstore save row ok", "row", int(row))
	return nil
}

func parseLogLevel(value string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "warn", "warning":
		return logger.Warn, nil
	case "silent", "off":
		return logger.Silent, nil
	case "error":
		return logger.Error, nil
	case "info", "debug":
		return logger.Info, nil
	default:
		return 0, fmt.Errorf("unknown gorm log level %q", value)
	}
}

// gormWriter routes gorm query logs into pslog.
type gormWriter struct {
	log pslog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug("pgstore query", "detail", strings.TrimSpace(fmt.Sprintf(format, args...)))
}
