package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tethbox/backend/internal/config"
	"tethbox/backend/internal/domain"
	"tethbox/backend/internal/monitoring"
	"tethbox/backend/internal/storage"
)

// SweepResult 一次清理的结果
type SweepResult struct {
	Cleared int `json:"cleared"`
	Failed  int `json:"failed"`
}

// Sweeper 清理已过期账户的邮件、附件与 blob，并把账户标记为已清理。
//
// 可重复、可并发执行。单个账户失败不影响其余账户，留到下一次清理重试。
type Sweeper struct {
	store     storage.Store
	blobs     storage.BlobStore
	batchSize int
	workers   int
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewSweeper 创建过期清理器
func NewSweeper(store storage.Store, blobs storage.BlobStore, cfg config.SweepConfig, metrics *monitoring.Metrics, log *zap.Logger) *Sweeper {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Sweeper{
		store:     store,
		blobs:     blobs,
		batchSize: cfg.BatchSize,
		workers:   workers,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Sweep 执行一次清理，最多处理 batchSize 个账户。
//
// 只有列出过期账户失败时返回错误。
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	accounts, err := s.store.ListExpiredAccounts(ctx, s.now(), s.batchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list expired accounts: %w", err)
	}
	if len(accounts) == 0 {
		return SweepResult{}, nil
	}

	var (
		mu     sync.Mutex
		result SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range accounts {
		account := accounts[i]
		g.Go(func() error {
			err := s.clearAccount(gctx, &account)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				s.metrics.SweepAccounts.WithLabelValues("failed").Inc()
				s.log.Error("failed to clear account", zap.Int64("account_id", account.ID), zap.Error(err))
				return nil
			}
			result.Cleared++
			s.metrics.SweepAccounts.WithLabelValues("cleared").Inc()
			s.metrics.AccountsCleared.Inc()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("sweep finished",
		zap.Int("cleared", result.Cleared),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// clearAccount 依次删除附件 blob、附件记录、邮件，最后标记账户已清理。
func (s *Sweeper) clearAccount(ctx context.Context, account *domain.Account) error {
	messages, err := s.store.ListMessages(ctx, account.ID, storage.SortAscending)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	for _, msg := range messages {
		if err := s.clearMessage(ctx, &msg); err != nil {
			return err
		}
	}

	if err := s.store.MarkAccountCleared(ctx, account.ID); err != nil && !errors.Is(err, storage.ErrAccountNotFound) {
		return fmt.Errorf("mark account cleared: %w", err)
	}
	return nil
}

func (s *Sweeper) clearMessage(ctx context.Context, msg *domain.Message) error {
	attachments, err := s.store.ListAttachments(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}

	for _, att := range attachments {
		if err := s.blobs.Delete(ctx, att.StoragePath); err != nil {
			if errors.Is(err, storage.ErrBlobNotFound) {
				s.log.Warn("attachment blob already gone", zap.String("attachment_id", att.ID), zap.String("path", att.StoragePath))
			} else {
				// blob 泄漏优先于阻塞账户清理
				s.metrics.BlobDeleteErrors.Inc()
				s.log.Error("failed to delete attachment blob",
					zap.String("attachment_id", att.ID),
					zap.String("path", att.StoragePath),
					zap.Error(err))
			}
		}
		if err := s.store.DeleteAttachment(ctx, att.ID); err != nil && !errors.Is(err, storage.ErrAttachmentNotFound) {
			return fmt.Errorf("delete attachment %s: %w", att.ID, err)
		}
	}

	if err := s.store.DeleteMessage(ctx, msg.ID); err != nil && !errors.Is(err, storage.ErrMessageNotFound) {
		return fmt.Errorf("delete message %s: %w", msg.ID, err)
	}
	return nil
}

// Run 按固定间隔执行清理，直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}
