package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"              // PostgreSQL driver (pq)
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/storage"
)

const accountSequence = "accounts"

// idSequence 保存单调递增的 ID 序列。
type idSequence struct {
	Name  string `gorm:"primaryKey;type:varchar(32)"`
	Value int64  `gorm:"not null;default:0"`
}

func (idSequence) TableName() string { return "id_sequences" }

// Store SQL 数据库存储实现（支持 PostgreSQL、MySQL 5.7+ 和 SQLite）
type Store struct {
	db         *gorm.DB
	sqlDB      *sql.DB
	driverName string // "postgres", "pgx", "mysql" or "sqlite"
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建SQL数据库存储并自动迁移表结构
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		gormDB *gorm.DB
		err    error
	)

	switch driverName {
	case "postgres", "pgx":
		db, openErr := openPool(driverName, dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
		if openErr != nil {
			return nil, openErr
		}
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	case "mysql":
		db, openErr := openPool(driverName, dsn, maxOpenConns, maxIdleConns, connMaxLifetime)
		if openErr != nil {
			return nil, openErr
		}
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	case "sqlite":
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, pgx, mysql, sqlite)", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if driverName == "sqlite" {
		// SQLite 只允许单个写连接
		sqlDB.SetMaxOpenConns(1)
	}

	store := &Store{
		db:         gormDB,
		sqlDB:      sqlDB,
		driverName: driverName,
	}

	// 自动执行数据库迁移
	if err := store.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func openPool(driverName, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate 执行数据库迁移（使用GORM AutoMigrate）并初始化账户 ID 序列
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&idSequence{},
		&domain.Account{},
		&domain.Message{},
		&domain.Attachment{},
	); err != nil {
		return err
	}
	return s.db.
		Where(idSequence{Name: accountSequence}).
		FirstOrCreate(&idSequence{Name: accountSequence}).Error
}

// DriverName 返回当前使用的驱动名
func (s *Store) DriverName() string {
	return s.driverName
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.sqlDB != nil {
		return s.sqlDB.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.sqlDB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.sqlDB.Ping()
}

// ========== 账户 ==========

// AllocateAccountID 在事务中对序列行加锁并递增。
func (s *Store) AllocateAccountID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq idSequence
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", accountSequence).
			First(&seq).Error; err != nil {
			return err
		}
		id = seq.Value + 1
		return tx.Model(&idSequence{}).
			Where("name = ?", accountSequence).
			Update("value", id).Error
	})
	if err != nil {
		return 0, fmt.Errorf("allocate account id: %w", err)
	}
	return id, nil
}

// CreateAccount 保存新账户
//
// 地址的本地部分区分大小写，而 MySQL 默认排序规则不区分，所以重复检查在 Go 中比较。
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	row := *account
	row.Email = domain.NormalizeAddress(row.Email)
	row.CreatedAt = row.CreatedAt.UTC()
	row.ValidUntil = row.ValidUntil.UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findByEmail(tx, row.Email, false)
		if err != nil {
			return err
		}
		if existing != nil {
			return storage.ErrEmailExists
		}

		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
				return storage.ErrEmailExists
			}
			return err
		}
		return nil
	})
}

// findByEmail 精确匹配邮箱地址，没有匹配时返回 nil
func findByEmail(tx *gorm.DB, email string, activeOnly bool) (*domain.Account, error) {
	query := tx.Where("email = ?", email)
	if activeOnly {
		query = query.Where("cleared = ?", false)
	}

	var rows []domain.Account
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Email == email {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// GetAccount 根据 ID 获取未清理的账户
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).
		Where("id = ? AND cleared = ?", id, false).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetAccountByEmail 根据邮箱地址获取未清理的账户
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	account, err := findByEmail(s.db.WithContext(ctx), domain.NormalizeAddress(email), true)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, storage.ErrAccountNotFound
	}
	return account, nil
}

// SaveAccount 写回账户的 valid_until
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", account.ID).
		Update("valid_until", account.ValidUntil.UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 在值未变化时同样返回 0
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", account.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrAccountNotFound
		}
	}
	return nil
}

// ListExpiredAccounts 返回待清理的过期账户
func (s *Store) ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]domain.Account, error) {
	var accounts []domain.Account
	query := s.db.WithContext(ctx).
		Where("cleared = ? AND valid_until < ?", false, now.UTC()).
		Order("valid_until ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// MarkAccountCleared 标记账户已清理
func (s *Store) MarkAccountCleared(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Update("cleared", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrAccountNotFound
		}
	}
	return nil
}

// ========== 邮件 ==========

// CreateMessage 在一个事务中写入邮件与全部附件
func (s *Store) CreateMessage(ctx context.Context, message *domain.Message, attachments []domain.Attachment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Account{}).
			Where("id = ? AND cleared = ?", message.AccountID, false).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrAccountNotFound
		}

		row := *message
		row.Date = row.Date.UTC()
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		if len(attachments) == 0 {
			return nil
		}
		rows := make([]domain.Attachment, len(attachments))
		for i, att := range attachments {
			att.MessageID = message.ID
			rows[i] = att
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to save attachments: %w", err)
		}
		return nil
	})
}

// GetMessage 根据 ID 获取邮件
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var message domain.Message
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMessageNotFound
		}
		return nil, err
	}
	return &message, nil
}

// ListMessages 按接收时间列出账户的邮件
func (s *Store) ListMessages(ctx context.Context, accountID int64, order storage.SortOrder) ([]domain.Message, error) {
	desc := order == storage.SortDescending

	messages := make([]domain.Message, 0)
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: desc}).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkMessageRead 标记邮件为已读
func (s *Store) MarkMessageRead(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetMessage(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMessage 删除邮件记录
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// ========== 附件 ==========

// GetAttachment 根据 ID 获取附件记录
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	var att domain.Attachment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&att).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &att, nil
}

// ListAttachments 列出邮件的全部附件
func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	attachments := make([]domain.Attachment, 0)
	if err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

// DeleteAttachment 删除附件记录
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Attachment{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAttachmentNotFound
	}
	return nil
}

// isUniqueViolation 识别未开启 TranslateError 时各驱动的唯一约束错误
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
