package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "tethbox.db")
	store, err := NewStore("sqlite", dsn, 1, 1, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createAccount(t *testing.T, store *Store, validUntil time.Time) *domain.Account {
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

func TestSQLStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore("oracle", "", 1, 1, time.Hour)
	assert.Error(t, err)
}

func TestSQLStore_AllocateAccountID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		id, err := store.AllocateAccountID(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	// 重新迁移不会重置序列
	require.NoError(t, store.Migrate())
	id, err := store.AllocateAccountID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), id)
}

func TestSQLStore_AccountOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := createAccount(t, store, time.Now().Add(10*time.Minute))

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.Email, got.Email)
	assert.False(t, got.Cleared)

	got, err = store.GetAccountByEmail(ctx, "1@TethBox.Test")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	dup := *account
	dup.ID = 500
	assert.ErrorIs(t, store.CreateAccount(ctx, &dup), storage.ErrEmailExists)

	newUntil := time.Now().Add(time.Hour)
	got.ValidUntil = newUntil
	require.NoError(t, store.SaveAccount(ctx, got))
	got, err = store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newUntil, got.ValidUntil, time.Millisecond)

	assert.ErrorIs(t, store.SaveAccount(ctx, &domain.Account{ID: 999}), storage.ErrAccountNotFound)

	require.NoError(t, store.MarkAccountCleared(ctx, account.ID))
	_, err = store.GetAccount(ctx, account.ID)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	_, err = store.GetAccountByEmail(ctx, account.Email)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)

	assert.ErrorIs(t, store.MarkAccountCleared(ctx, 999), storage.ErrAccountNotFound)
}

func TestSQLStore_ListExpiredAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	older := createAccount(t, store, now.Add(-2*time.Hour))
	newer := createAccount(t, store, now.Add(-time.Minute))
	createAccount(t, store, now.Add(time.Hour))
	cleared := createAccount(t, store, now.Add(-3*time.Hour))
	require.NoError(t, store.MarkAccountCleared(ctx, cleared.ID))

	expired, err := store.ListExpiredAccounts(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, older.ID, expired[0].ID)
	assert.Equal(t, newer.ID, expired[1].ID)

	limited, err := store.ListExpiredAccounts(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLStore_MessageOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, time.Now().Add(10*time.Minute))

	base := time.Now()
	first := &domain.Message{
		ID:            "00000000-0000-0000-0000-000000000001",
		AccountID:     account.ID,
		SenderName:    "Alice",
		SenderAddress: "alice@example.com",
		Subject:       "first",
		Text:          "hello",
		Date:          base,
	}
	second := &domain.Message{
		ID:        "00000000-0000-0000-0000-000000000002",
		AccountID: account.ID,
		Subject:   "second",
		Date:      base.Add(time.Minute),
	}

	atts := []domain.Attachment{
		{ID: "a1", Filename: "a.txt", ContentType: "text/plain", Size: 3, StoragePath: "attachments/x/a1"},
		{ID: "a2", Filename: "logo.png", ContentType: "image/png", ContentID: "logo", StoragePath: "attachments/x/a2"},
	}
	require.NoError(t, store.CreateMessage(ctx, first, atts))
	require.NoError(t, store.CreateMessage(ctx, second, nil))

	messages, err := store.ListMessages(ctx, account.ID, storage.SortAscending)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, first.ID, messages[0].ID)
	assert.Equal(t, "Alice", messages[0].SenderName)

	messages, err = store.ListMessages(ctx, account.ID, storage.SortDescending)
	require.NoError(t, err)
	assert.Equal(t, second.ID, messages[0].ID)

	list, err := store.ListAttachments(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].MessageID)

	att, err := store.GetAttachment(ctx, "a2")
	require.NoError(t, err)
	assert.True(t, att.IsInline())

	require.NoError(t, store.MarkMessageRead(ctx, first.ID))
	got, err := store.GetMessage(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.ErrorIs(t, store.MarkMessageRead(ctx, "missing"), storage.ErrMessageNotFound)

	require.NoError(t, store.DeleteAttachment(ctx, "a1"))
	require.NoError(t, store.DeleteAttachment(ctx, "a2"))
	assert.ErrorIs(t, store.DeleteAttachment(ctx, "a2"), storage.ErrAttachmentNotFound)
	require.NoError(t, store.DeleteMessage(ctx, first.ID))
	assert.ErrorIs(t, store.DeleteMessage(ctx, first.ID), storage.ErrMessageNotFound)

	_, err = store.GetMessage(ctx, first.ID)
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}

func TestSQLStore_CreateMessageRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := createAccount(t, store, time.Now().Add(10*time.Minute))

	// 重复的附件 ID 使第二条附件写入失败，整条邮件应回滚
	msg := &domain.Message{ID: "m-rollback", AccountID: account.ID, Date: time.Now()}
	atts := []domain.Attachment{{ID: "dup"}, {ID: "dup"}}
	assert.Error(t, store.CreateMessage(ctx, msg, atts))

	_, err := store.GetMessage(ctx, "m-rollback")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	list, err := store.ListAttachments(ctx, "m-rollback")
	require.NoError(t, err)
	assert.Empty(t, list)

	// 不存在的账户
	err = store.CreateMessage(ctx, &domain.Message{ID: "orphan", AccountID: 42}, nil)
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}

func TestSQLStore_Health(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Health())
	assert.Equal(t, "sqlite", store.DriverName())
}

func TestSQLStore_LocalPartIsCaseSensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	until := time.Now().Add(time.Minute)

	upper := &domain.Account{ID: 10, Email: domain.EncodeAddress(10, "tethbox.test"), ValidUntil: until}
	lower := &domain.Account{ID: 36, Email: domain.EncodeAddress(36, "tethbox.test"), ValidUntil: until}
	require.NoError(t, store.CreateAccount(ctx, upper))
	require.NoError(t, store.CreateAccount(ctx, lower))

	got, err := store.GetAccountByEmail(ctx, "A@TETHBOX.test")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.ID)

	got, err = store.GetAccountByEmail(ctx, "a@tethbox.test")
	require.NoError(t, err)
	assert.Equal(t, int64(36), got.ID)

	_, err = store.GetAccountByEmail(ctx, "b@tethbox.test")
	assert.ErrorIs(t, err, storage.ErrAccountNotFound)
}
