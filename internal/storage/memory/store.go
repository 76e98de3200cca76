package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/storage"
)

// Store 使用内存保存账户、邮件与附件记录，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	sequence    atomic.Int64
	accounts    map[int64]*domain.Account
	byEmail     map[string]int64
	messages    map[string]*domain.Message
	byAccount   map[int64]map[string]struct{} // accountID -> messageIDs
	attachments map[string]*domain.Attachment
	byMessage   map[string]map[string]struct{} // messageID -> attachmentIDs

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期速率限制的时间
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

var _ storage.Store = (*Store)(nil)
var _ storage.RateLimitRepository = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		accounts:          make(map[int64]*domain.Account),
		byEmail:           make(map[string]int64),
		messages:          make(map[string]*domain.Message),
		byAccount:         make(map[int64]map[string]struct{}),
		attachments:       make(map[string]*domain.Attachment),
		byMessage:         make(map[string]map[string]struct{}),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}
}

// ========== 账户 ==========

// AllocateAccountID 从单调递增计数器分配账户 ID，从 1 开始。
func (s *Store) AllocateAccountID(_ context.Context) (int64, error) {
	return s.sequence.Inc(), nil
}

// CreateAccount 保存新账户，邮箱地址冲突时返回 ErrEmailExists。
func (s *Store) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := domain.NormalizeAddress(account.Email)
	if _, exists := s.byEmail[email]; exists {
		return storage.ErrEmailExists
	}
	if _, exists := s.accounts[account.ID]; exists {
		return storage.ErrEmailExists
	}

	cp := *account
	s.accounts[account.ID] = &cp
	s.byEmail[email] = account.ID
	return nil
}

// GetAccount 根据 ID 获取未清理的账户。
func (s *Store) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok || account.Cleared {
		return nil, storage.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// GetAccountByEmail 根据邮箱地址获取未清理的账户。
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[domain.NormalizeAddress(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

// SaveAccount 写回账户的 valid_until。cleared 只能通过 MarkAccountCleared 修改。
func (s *Store) SaveAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.ID]
	if !ok {
		return storage.ErrAccountNotFound
	}
	existing.ValidUntil = account.ValidUntil
	return nil
}

// ListExpiredAccounts 返回 valid_until < now 且未清理的账户，按 valid_until 升序。
func (s *Store) ListExpiredAccounts(_ context.Context, now time.Time, limit int) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Account, 0)
	for _, account := range s.accounts {
		if !account.Cleared && account.ValidUntil.Before(now) {
			result = append(result, *account)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ValidUntil.Equal(result[j].ValidUntil) {
			return result[i].ID < result[j].ID
		}
		return result[i].ValidUntil.Before(result[j].ValidUntil)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkAccountCleared 标记账户已清理。
func (s *Store) MarkAccountCleared(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return storage.ErrAccountNotFound
	}
	account.Cleared = true
	return nil
}

// ========== 邮件 ==========

// CreateMessage 在同一把锁内写入邮件与附件记录。
func (s *Store) CreateMessage(_ context.Context, message *domain.Message, attachments []domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[message.AccountID]
	if !ok || account.Cleared {
		return storage.ErrAccountNotFound
	}

	cp := *message
	s.messages[message.ID] = &cp
	if s.byAccount[message.AccountID] == nil {
		s.byAccount[message.AccountID] = make(map[string]struct{})
	}
	s.byAccount[message.AccountID][message.ID] = struct{}{}

	for i := range attachments {
		att := attachments[i]
		att.MessageID = message.ID
		s.attachments[att.ID] = &att
		if s.byMessage[message.ID] == nil {
			s.byMessage[message.ID] = make(map[string]struct{})
		}
		s.byMessage[message.ID][att.ID] = struct{}{}
	}
	return nil
}

// GetMessage 根据 ID 获取邮件。
func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrMessageNotFound
	}
	cp := *message
	return &cp, nil
}

// ListMessages 返回账户下的邮件，按接收时间排序。
func (s *Store) ListMessages(_ context.Context, accountID int64, order storage.SortOrder) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAccount[accountID]
	result := make([]domain.Message, 0, len(ids))
	for id := range ids {
		result = append(result, *s.messages[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		if order == storage.SortDescending {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// MarkMessageRead 标记邮件为已读。
func (s *Store) MarkMessageRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	message.Read = true
	return nil
}

// DeleteMessage 删除邮件记录。调用方须先删除其附件。
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	delete(s.messages, id)
	if ids := s.byAccount[message.AccountID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byAccount, message.AccountID)
		}
	}
	return nil
}

// ========== 附件 ==========

// GetAttachment 根据 ID 获取附件记录。
func (s *Store) GetAttachment(_ context.Context, id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attachments[id]
	if !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	cp := *att
	return &cp, nil
}

// ListAttachments 返回邮件的全部附件记录。
func (s *Store) ListAttachments(_ context.Context, messageID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byMessage[messageID]
	result := make([]domain.Attachment, 0, len(ids))
	for id := range ids {
		result = append(result, *s.attachments[id])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteAttachment 删除附件记录。
func (s *Store) DeleteAttachment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attachments[id]
	if !ok {
		return storage.ErrAttachmentNotFound
	}
	delete(s.attachments, id)
	if ids := s.byMessage[att.MessageID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byMessage, att.MessageID)
		}
	}
	return nil
}

// ========== 限流 ==========

// IncrementRateLimit 增加限流计数
func (s *Store) IncrementRateLimit(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// 清理过期的速率限制条目（每5分钟清理一次）
	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, exists := s.rateLimits[key]
	if !exists || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{
			Count:     1,
			ExpiresAt: now.Add(window),
		}
		s.rateLimits[key] = entry
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// ========== 工具方法 ==========

// Close 关闭存储连接
func (s *Store) Close() error {
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	return nil
}
