package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tethbox/backend/internal/config"
	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/storage"
)

// ErrRateLimited 创建账户过于频繁
var ErrRateLimited = errors.New("rate limit exceeded")

const creationWindow = time.Hour

// Session 是服务层需要的会话视图，只识别绑定的账户 ID
type Session interface {
	AccountID() (int64, bool)
	SetAccountID(id int64)
}

// AccountService 封装账户生命周期与会话绑定。
type AccountService struct {
	store   storage.Store
	limiter storage.RateLimitRepository
	cfg     config.AccountConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewAccountService 创建账户服务。limiter 为 nil 时不限制创建频率。
func NewAccountService(store storage.Store, limiter storage.RateLimitRepository, cfg config.AccountConfig, metrics *monitoring.Metrics, log *zap.Logger) *AccountService {
	return &AccountService{
		store:   store,
		limiter: limiter,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Now 返回服务使用的当前时间
func (s *AccountService) Now() time.Time {
	return s.now()
}

// Create 分配 ID 并创建一个有效期为 TTL 的新账户。
func (s *AccountService) Create(ctx context.Context) (*domain.Account, error) {
	id, err := s.store.AllocateAccountID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate account id: %w", err)
	}

	now := s.now()
	account := &domain.Account{
		ID:         id,
		Email:      domain.EncodeAddress(id, s.cfg.Domain),
		CreatedAt:  now,
		ValidUntil: now.Add(s.cfg.TTL),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.metrics.AccountsCreated.Inc()
	s.log.Info("account created", zap.Int64("account_id", id), zap.String("email", account.Email))
	return account, nil
}

// Resolve 返回会话绑定的有效账户；未绑定、不存在或已失效时返回 domain.ErrGone。
func (s *AccountService) Resolve(ctx context.Context, sess Session) (*domain.Account, error) {
	id, ok := sess.AccountID()
	if !ok {
		return nil, domain.ErrGone
	}

	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil, domain.ErrGone
		}
		return nil, err
	}
	if !account.IsValidAt(s.now()) {
		return nil, domain.ErrGone
	}
	return account, nil
}

// Init 确保会话绑定了一个有效账户，必要时创建。
func (s *AccountService) Init(ctx context.Context, sess Session, clientIP string) (*domain.Account, error) {
	account, err := s.Resolve(ctx, sess)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, domain.ErrGone) {
		return nil, err
	}
	return s.createAndBind(ctx, sess, clientIP)
}

// NewAccount 关闭会话当前绑定的账户，然后创建并绑定新账户。
func (s *AccountService) NewAccount(ctx context.Context, sess Session, clientIP string) (*domain.Account, error) {
	if id, ok := sess.AccountID(); ok {
		old, err := s.store.GetAccount(ctx, id)
		switch {
		case err == nil:
			if err := s.Close(ctx, old); err != nil {
				return nil, err
			}
		case !errors.Is(err, storage.ErrAccountNotFound):
			return nil, err
		}
	}
	return s.createAndBind(ctx, sess, clientIP)
}

// Renew 将会话账户的有效期重置为 now + TTL，账户无效时返回 domain.ErrForbidden。
func (s *AccountService) Renew(ctx context.Context, sess Session) (*domain.Account, error) {
	account, err := s.Resolve(ctx, sess)
	if err != nil {
		if errors.Is(err, domain.ErrGone) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}

	account.ValidUntil = s.now().Add(s.cfg.TTL)
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("renew account: %w", err)
	}

	s.metrics.AccountsRenewed.Inc()
	return account, nil
}

// Close 让账户立即失效。对已失效的账户不做修改。
func (s *AccountService) Close(ctx context.Context, account *domain.Account) error {
	now := s.now()
	if !account.IsValidAt(now) {
		return nil
	}

	account.ValidUntil = now
	if err := s.store.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("close account: %w", err)
	}

	s.metrics.AccountsClosed.Inc()
	s.log.Info("account closed", zap.Int64("account_id", account.ID))
	return nil
}

func (s *AccountService) createAndBind(ctx context.Context, sess Session, clientIP string) (*domain.Account, error) {
	if err := s.checkRateLimit(ctx, clientIP); err != nil {
		return nil, err
	}

	account, err := s.Create(ctx)
	if err != nil {
		return nil, err
	}
	sess.SetAccountID(account.ID)
	return account, nil
}

func (s *AccountService) checkRateLimit(ctx context.Context, clientIP string) error {
	if s.limiter == nil || clientIP == "" || s.cfg.MaxPerIP <= 0 {
		return nil
	}

	count, err := s.limiter.IncrementRateLimit(ctx, "create:"+clientIP, creationWindow)
	if err != nil {
		// 限流后端故障时放行
		s.log.Warn("rate limit check failed", zap.String("ip", clientIP), zap.Error(err))
		return nil
	}
	if count > int64(s.cfg.MaxPerIP) {
		s.metrics.RecordRateLimitBlock("account_create")
		return ErrRateLimited
	}
	return nil
}
