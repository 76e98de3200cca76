package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/storage"
)

func newAccount(t *testing.T, store *Store, validUntil time.Time) *domain.Account {
	t.Helper()
	ctx := context.Background()

	id, err := store.AllocateAccountID(ctx)
	require.NoError(t, err)

	account := &domain.Account{
		ID:         id,
		Email:      domain.EncodeAddress(id, "tethbox.test"),
		CreatedAt:  time.Now(),
		ValidUntil: validUntil,
	}
	require.NoError(t, store.CreateAccount(ctx, account))
	return account
}

func TestMemoryStore_AllocateAccountID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first, err := store.AllocateAccountID(ctx)
	require.NoError(t, err)
	second, err := store.AllocateAccountID(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestMemoryStore_AccountOperations(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	account := newAccount(t, store, time.Now().Add(10*time.Minute))

	// GetAccount
	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Email, got.Email)

	// 域名不区分大小写
	got, err = store.GetAccountByEmail(ctx, "1@TETHBOX.TEST")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	// 重复地址
	dup := *account
	dup.ID = 99
	assert.ErrorIs(t, store.CreateAccount(ctx, &dup), storage.ErrEmailExists)

	// SaveAccount
	newUntil := time.Now().Add(time.Hour)
	got.ValidUntil = newUntil
	require.NoError(t, store.SaveAccount(ctx, got))
	got, err = store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.ValidUntil.Equal(newUntil))

	// 返回值是副本
	got.Email = "mutated@example.com"
	again, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Email, again.Email)

	// 已清理的账户不可见
	require.NoError(t, store.MarkAccountCleared(ctx, account.ID))
	_, err = store.GetAccount(ctx, account.ID)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	_, err = store.GetAccountByEmail(ctx, account.Email)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)

	_, err = store.GetAccount(ctx, 12345)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestMemoryStore_ListExpiredAccounts(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	older := newAccount(t, store, now.Add(-2*time.Hour))
	newer := newAccount(t, store, now.Add(-time.Minute))
	newAccount(t, store, now.Add(time.Hour))
	cleared := newAccount(t, store, now.Add(-3*time.Hour))
	require.NoError(t, store.MarkAccountCleared(ctx, cleared.ID))

	expired, err := store.ListExpiredAccounts(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, older.ID, expired[0].ID)
	assert.Equal(t, newer.ID, expired[1].ID)

	limited, err := store.ListExpiredAccounts(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	account := newAccount(t, store, time.Now().Add(10*time.Minute))

	base := time.Now()
	first := &domain.Message{ID: "m1", AccountID: account.ID, Subject: "first", Date: base}
	second := &domain.Message{ID: "m2", AccountID: account.ID, Subject: "second", Date: base.Add(time.Second)}

	atts := []domain.Attachment{
		{ID: "a1", Filename: "a.txt", Size: 3, StoragePath: "attachments/m1/a1"},
		{ID: "a2", Filename: "logo.png", ContentID: "logo", StoragePath: "attachments/m1/a2"},
	}
	require.NoError(t, store.CreateMessage(ctx, first, atts))
	require.NoError(t, store.CreateMessage(ctx, second, nil))

	// 升序
	messages, err := store.ListMessages(ctx, account.ID, storage.SortAscending)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)

	// 降序
	messages, err = store.ListMessages(ctx, account.ID, storage.SortDescending)
	require.NoError(t, err)
	assert.Equal(t, "m2", messages[0].ID)

	// 附件关联到邮件
	list, err := store.ListAttachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, att := range list {
		assert.Equal(t, "m1", att.MessageID)
	}

	// MarkMessageRead
	require.NoError(t, store.MarkMessageRead(ctx, "m1"))
	got, err := store.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.Read)

	// 删除附件与邮件
	require.NoError(t, store.DeleteAttachment(ctx, "a1"))
	require.NoError(t, store.DeleteAttachment(ctx, "a2"))
	assert.ErrorIs(t, store.DeleteAttachment(ctx, "a2"), storage.ErrAttachmentNotFound)
	require.NoError(t, store.DeleteMessage(ctx, "m1"))

	_, err = store.GetMessage(ctx, "m1")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	_, err = store.GetAttachment(ctx, "a1")
	assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)

	messages, err = store.ListMessages(ctx, account.ID, storage.SortAscending)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestMemoryStore_CreateMessageRequiresAccount(t *testing.T) {
	store := NewStore()
	err := store.CreateMessage(context.Background(), &domain.Message{ID: "m1", AccountID: 7}, nil)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestMemoryStore_IncrementRateLimit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.IncrementRateLimit(ctx, "ip:1.2.3.4", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	// 不同 key 独立计数
	count, err := store.IncrementRateLimit(ctx, "ip:5.6.7.8", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// 窗口过期后重置
	count, err = store.IncrementRateLimit(ctx, "short", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	time.Sleep(5 * time.Millisecond)
	count, err = store.IncrementRateLimit(ctx, "short", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_LocalPartIsCaseSensitive(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	until := time.Now().Add(time.Minute)

	// base62 中 10 -> "A"，36 -> "a"
	upper := &domain.Account{ID: 10, Email: domain.EncodeAddress(10, "tethbox.test"), ValidUntil: until}
	lower := &domain.Account{ID: 36, Email: domain.EncodeAddress(36, "tethbox.test"), ValidUntil: until}
	require.NoError(t, store.CreateAccount(ctx, upper))
	require.NoError(t, store.CreateAccount(ctx, lower))

	got, err := store.GetAccountByEmail(ctx, "A@tethbox.test")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.ID)

	got, err = store.GetAccountByEmail(ctx, "a@tethbox.test")
	require.NoError(t, err)
	assert.Equal(t, int64(36), got.ID)
}
