package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// StorageError 存储层写入或约束失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储操作失败(%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// DB 数据库连接，按实体提供访问器
type DB struct {
	db     *gorm.DB
	driver string
}

// Open 根据配置打开数据库并迁移表结构
func Open(cfg config.Database) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		// 构建连接字符串
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	case "", "sqlite":
		dsn, err := sqliteDSN(cfg.Path)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}

	// 设置连接池参数，SQLite 只保留单连接避免写锁冲突
	if cfg.Driver == "postgres" {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	} else {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("测试数据库连接失败: %w", err)
	}

	d := &DB{db: gdb, driver: cfg.Driver}
	if err := d.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// sqliteDSN ":memory:" 生成独立的内存库，其余视为文件路径
func sqliteDSN(path string) (string, error) {
	if path == "" || path == ":memory:" {
		return fmt.Sprintf("file:mem-%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString()), nil
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("创建数据目录失败: %w", err)
		}
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", nil
}

// Migrate 自动迁移全部表
func (d *DB) Migrate() error {
	err := d.db.AutoMigrate(
		&model.Stock{},
		&model.PriceRecord{},
		&model.FinancialRecord{},
		&model.ValuationRecord{},
		&model.DataStatus{},
		&model.BatchJob{},
		&model.BatchJobItem{},
		&model.Analysis{},
		&model.Portfolio{},
		&model.Holding{},
	)
	if err != nil {
		return fmt.Errorf("迁移数据库失败: %w", err)
	}
	return nil
}

// Transaction 在同一事务中执行 fn，fn 返回错误时回滚
func (d *DB) Transaction(fn func(tx *DB) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return fn(&DB{db: tx, driver: d.driver})
	})
}

// Ping 检查数据库连接
func (d *DB) Ping() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
