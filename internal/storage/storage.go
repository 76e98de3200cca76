package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"tethbox/backend/internal/domain"
)

var (
	// ErrAccountNotFound 账户不存在或已清理
	ErrAccountNotFound = errors.New("account not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrAttachmentNotFound 附件未找到错误
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrBlobNotFound blob 不存在
	ErrBlobNotFound = errors.New("blob not found")
	// ErrEmailExists 邮箱地址冲突
	ErrEmailExists = errors.New("email already exists")
)

// SortOrder 收件箱排序方向。
type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

// AccountRepository 定义账户数据存取操作。
//
// GetAccount 与 GetAccountByEmail 不返回已清理的账户。
type AccountRepository interface {
	AllocateAccountID(ctx context.Context) (int64, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
	ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]domain.Account, error) // valid_until < now 且未清理
	MarkAccountCleared(ctx context.Context, id int64) error
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// CreateMessage 原子地写入邮件及其全部附件记录
	CreateMessage(ctx context.Context, message *domain.Message, attachments []domain.Attachment) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ListMessages(ctx context.Context, accountID int64, order SortOrder) ([]domain.Message, error)
	MarkMessageRead(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, id string) error
}

// AttachmentRepository 定义附件数据存取操作。
type AttachmentRepository interface {
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	ListAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// RateLimitRepository 定义固定窗口计数器。
type RateLimitRepository interface {
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Store 聚合所有存储接口
type Store interface {
	AccountRepository
	MessageRepository
	AttachmentRepository
	Health() error
	Close() error
}

// BlobStore 定义附件二进制内容的外部存储。
//
// Delete 对不存在的路径返回 ErrBlobNotFound。
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, path string) error
}
