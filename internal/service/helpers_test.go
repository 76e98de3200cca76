package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tethbox/backend/internal/config"
	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/storage"
	"tethbox/backend/internal/storage/filesystem"
	"tethbox/backend/internal/storage/memory"
)

const testDomain = "tethbox.test"

type fakeSession struct {
	id    int64
	bound bool
}

func (s *fakeSession) AccountID() (int64, bool) { return s.id, s.bound }

func (s *fakeSession) SetAccountID(id int64) {
	s.id = id
	s.bound = true
}

type recordingNotifier struct {
	calls []int64
}

func (n *recordingNotifier) NotifyNewMail(_ context.Context, accountID int64, _ *domain.Message) {
	n.calls = append(n.calls, accountID)
}

type testEnv struct {
	now      time.Time
	store    *memory.Store
	blobs    *filesystem.Store
	metrics  *monitoring.Metrics
	notifier *recordingNotifier
	accounts *AccountService
	gate     *AccessGate
	inbox    *InboxService
	ingest   *IngestService
	sweeper  *Sweeper
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	blobs, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		store:    memory.NewStore(),
		blobs:    blobs,
		metrics:  monitoring.NewMetrics(nil),
		notifier: &recordingNotifier{},
	}
	clock := func() time.Time { return env.now }
	log := zap.NewNop()

	env.accounts = NewAccountService(env.store, env.store, config.AccountConfig{
		Domain:   testDomain,
		TTL:      10 * time.Minute,
		MaxPerIP: 3,
	}, env.metrics, log)
	env.accounts.now = clock

	env.gate = NewAccessGate(env.accounts, env.store)
	env.inbox = NewInboxService(env.accounts, env.gate, env.store, env.blobs, env.metrics, log)

	env.ingest = NewIngestService(env.store, env.blobs, env.notifier, testDomain, env.metrics, log)
	env.ingest.now = clock

	env.sweeper = NewSweeper(env.store, env.blobs, config.SweepConfig{BatchSize: 100, Workers: 2}, env.metrics, log)
	env.sweeper.now = clock
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// newBoundSession 创建绑定了新账户的会话
func (e *testEnv) newBoundSession(t *testing.T) (*fakeSession, *domain.Account) {
	t.Helper()
	sess := &fakeSession{}
	account, err := e.accounts.Init(context.Background(), sess, "")
	require.NoError(t, err)
	return sess, account
}

// deliver 向账户投递一封邮件并返回入库的邮件
func (e *testEnv) deliver(t *testing.T, account *domain.Account, raw string) *domain.Message {
	t.Helper()
	n, err := e.ingest.DeliverBytes(context.Background(), []string{account.Email}, []byte(raw), "test")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	messages, err := e.store.ListMessages(context.Background(), account.ID, storage.SortDescending)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	return &messages[0]
}

func plainMail(to, subject, body string) string {
	return "From: \"Sender\" <sender@example.org>\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
}

func sprintfMail(format, to string) string {
	return fmt.Sprintf(format, to)
}
