package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tethbox/backend/internal/domain"
)

func TestAccountService_InitCreatesAndBinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := &fakeSession{}

	account, err := env.accounts.Init(ctx, sess, "10.0.0.1")
	require.NoError(t, err)

	id, ok := sess.AccountID()
	require.True(t, ok)
	assert.Equal(t, account.ID, id)
	assert.Equal(t, int64(1), account.ID)
	assert.Equal(t, "1@"+testDomain, account.Email)
	assert.Equal(t, int64(600), account.ExpireIn(env.now))

	// 已有有效账户时直接返回
	again, err := env.accounts.Init(ctx, sess, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID)
}

func TestAccountService_InitReplacesExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess, first := env.newBoundSession(t)

	env.advance(10 * time.Minute)

	second, err := env.accounts.Init(ctx, sess, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	id, _ := sess.AccountID()
	assert.Equal(t, second.ID, id)
}

func TestAccountService_Resolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.accounts.Resolve(ctx, &fakeSession{})
	assert.ErrorIs(t, err, domain.ErrGone)

	_, err = env.accounts.Resolve(ctx, &fakeSession{id: 99, bound: true})
	assert.ErrorIs(t, err, domain.ErrGone)

	sess, account := env.newBoundSession(t)
	got, err := env.accounts.Resolve(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, account.Email, got.Email)

	// valid_until == now 时已失效
	env.advance(10 * time.Minute)
	_, err = env.accounts.Resolve(ctx, sess)
	assert.ErrorIs(t, err, domain.ErrGone)
}

func TestAccountService_Renew(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess, _ := env.newBoundSession(t)

	env.advance(4 * time.Minute)
	renewed, err := env.accounts.Renew(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, int64(600), renewed.ExpireIn(env.now))

	stored, err := env.store.GetAccount(ctx, renewed.ID)
	require.NoError(t, err)
	assert.True(t, stored.ValidUntil.Equal(env.now.Add(10*time.Minute)))

	env.advance(11 * time.Minute)
	_, err = env.accounts.Renew(ctx, sess)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.accounts.Renew(ctx, &fakeSession{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAccountService_NewAccountClosesOld(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess, old := env.newBoundSession(t)

	fresh, err := env.accounts.NewAccount(ctx, sess, "")
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)

	id, _ := sess.AccountID()
	assert.Equal(t, fresh.ID, id)

	closed, err := env.store.GetAccount(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsValidAt(env.now))
	assert.Equal(t, domain.AccountExpired, closed.StateAt(env.now))

	// 未绑定账户的会话也可以直接创建
	other := &fakeSession{}
	_, err = env.accounts.NewAccount(ctx, other, "")
	require.NoError(t, err)
	_, ok := other.AccountID()
	assert.True(t, ok)
}

func TestAccountService_CloseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, account := env.newBoundSession(t)

	require.NoError(t, env.accounts.Close(ctx, account))
	closedAt := account.ValidUntil

	env.advance(time.Minute)
	require.NoError(t, env.accounts.Close(ctx, account))
	assert.True(t, closedAt.Equal(account.ValidUntil))
}

func TestAccountService_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.accounts.NewAccount(ctx, &fakeSession{}, "192.0.2.1")
		require.NoError(t, err)
	}

	_, err := env.accounts.NewAccount(ctx, &fakeSession{}, "192.0.2.1")
	assert.True(t, errors.Is(err, ErrRateLimited))

	// 其他 IP 不受影响
	_, err = env.accounts.NewAccount(ctx, &fakeSession{}, "192.0.2.2")
	assert.NoError(t, err)
}

func TestAccountService_IDsAreUnique(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		account, err := env.accounts.Create(ctx)
		require.NoError(t, err)
		assert.False(t, seen[account.Email], "duplicate address %s", account.Email)
		seen[account.Email] = true
	}
}
