package domain

import (
	"time"
)

// AccountState 账户生命周期状态。
type AccountState string

const (
	AccountActive  AccountState = "active"
	AccountExpired AccountState = "expired"
	AccountCleared AccountState = "cleared"
)

// Account 表示一个一次性收件箱账户。
//
// Email 由 ID 的 base62 编码派生，创建后不可变；ValidUntil 由续期/关闭修改；
// Cleared 只在清理任务级联删除之后置为 true。
type Account struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Email      string    `json:"email" gorm:"type:varchar(255);index;not null"`
	CreatedAt  time.Time `json:"createdAt"`
	ValidUntil time.Time `json:"validUntil" gorm:"index:idx_accounts_sweep,priority:2"`
	Cleared    bool      `json:"cleared" gorm:"default:false;index:idx_accounts_sweep,priority:1"`
}

// IsValidAt 判断账户在给定时刻是否仍然有效。
func (a *Account) IsValidAt(now time.Time) bool {
	return a.ValidUntil.After(now)
}

// ExpireIn 返回距离失效的整秒数，向零截断，可能为负数。
func (a *Account) ExpireIn(now time.Time) int64 {
	return int64(a.ValidUntil.Sub(now) / time.Second)
}

// StateAt 返回账户在给定时刻所处的状态。
func (a *Account) StateAt(now time.Time) AccountState {
	switch {
	case a.Cleared:
		return AccountCleared
	case a.IsValidAt(now):
		return AccountActive
	default:
		return AccountExpired
	}
}
