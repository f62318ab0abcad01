package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath    string `yaml:"db_path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

// SQLiteStorage 成交记录的 SQLite 存储
type SQLiteStorage struct {
	config StorageConfig
	db     *sql.DB

	insertStmt *sql.Stmt
	stmtOnce   sync.Once
	stmtErr    error
}

// NewSQLiteStorage 打开数据库并建表
func NewSQLiteStorage(config StorageConfig) (*SQLiteStorage, error) {
	storage := &SQLiteStorage{config: config}
	if err := storage.initDB(); err != nil {
		return nil, err
	}
	return storage, nil
}

// initDB 初始化数据库
func (s *SQLiteStorage) initDB() error {
	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(s.config.DBPath), 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}

	dsn := s.config.DBPath
	if s.config.EnableWAL {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	} else {
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	s.db = db

	// 设置连接池
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := s.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("create tables failed: %w", err)
	}
	return nil
}

// createTables 创建表与索引
func (s *SQLiteStorage) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
            transaction_id TEXT PRIMARY KEY,
            price REAL NOT NULL,
            date_of_transfer TEXT NOT NULL,
            postcode TEXT,
            property_type TEXT,
            new_build TEXT,
            tenure TEXT,
            primary_address TEXT,
            secondary_address TEXT,
            street TEXT,
            locality TEXT,
            town_city TEXT,
            district TEXT,
            county TEXT,
            ppd_category_type TEXT,
            record_status TEXT,
            lat REAL,
            long REAL,
            created_at INTEGER DEFAULT (strftime('%s', 'now'))
        )`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_postcode ON transactions(postcode)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_town ON transactions(town_city)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("exec query failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) prepared() (*sql.Stmt, error) {
	s.stmtOnce.Do(func() {
		s.insertStmt, s.stmtErr = s.db.Prepare(`INSERT OR REPLACE INTO transactions (
            transaction_id, price, date_of_transfer, postcode, property_type,
            new_build, tenure, primary_address, secondary_address, street,
            locality, town_city, district, county, ppd_category_type,
            record_status, lat, long
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	})
	return s.insertStmt, s.stmtErr
}

// SaveBatch 在一个事务中批量写入
func (s *SQLiteStorage) SaveBatch(ctx context.Context, txs []*Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	stmt, err := s.prepared()
	if err != nil {
		return err
	}

	// 开始事务
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	insert := dbTx.StmtContext(ctx, stmt)
	for _, t := range txs {
		var lat, long sql.NullFloat64
		if t.Location != nil {
			lat = sql.NullFloat64{Float64: t.Location.Lat, Valid: true}
			long = sql.NullFloat64{Float64: t.Location.Long, Valid: true}
		}
		_, err := insert.ExecContext(ctx,
			t.TransactionID, t.Price, t.DateOfTransfer, t.Postcode, t.PropertyType,
			t.NewBuild, t.Tenure, t.PrimaryAddress, t.SecondaryAddress, t.Street,
			t.Locality, t.TownCity, t.District, t.County, t.PPDCategoryType,
			t.RecordStatus, lat, long,
		)
		if err != nil {
			return fmt.Errorf("insert %s failed: %w", t.TransactionID, err)
		}
	}

	// 提交事务
	return dbTx.Commit()
}

// Count 返回已保存的记录数
func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

// Close 关闭存储
func (s *SQLiteStorage) Close() error {
	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
