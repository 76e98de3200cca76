package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestAccount_ValidityWindow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	acc := &Account{ID: 1, Email: "1@tethbox.test", CreatedAt: t0, ValidUntil: t0.Add(600 * time.Second)}

	assert.True(t, acc.IsValidAt(t0))
	assert.Equal(t, int64(600), acc.ExpireIn(t0))
	assert.Equal(t, AccountActive, acc.StateAt(t0))

	atEnd := t0.Add(600 * time.Second)
	assert.False(t, acc.IsValidAt(atEnd), "valid_until 等于当前时间时不再有效")
	assert.Equal(t, int64(0), acc.ExpireIn(atEnd))
	assert.Equal(t, AccountExpired, acc.StateAt(atEnd))

	later := t0.Add(700 * time.Second)
	assert.Equal(t, int64(-100), acc.ExpireIn(later))

	acc.Cleared = true
	assert.Equal(t, AccountCleared, acc.StateAt(later))
}

func TestAccount_ExpireInTruncatesTowardZero(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	acc := &Account{ValidUntil: t0.Add(600 * time.Second)}

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"exact", 0, 600},
		{"fraction below half", 300 * time.Millisecond, 599},
		{"fraction above half", 700 * time.Millisecond, 599},
		{"last partial second", 599*time.Second + 600*time.Millisecond, 0},
		{"just expired", 600*time.Second + 400*time.Millisecond, 0},
		{"expired with fraction", 601*time.Second + 900*time.Millisecond, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, acc.ExpireIn(t0.Add(tt.elapsed)))
		})
	}
}

func TestAccount_PastValidUntilNeverValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("过去的 valid_until 永远无效，与 cleared 无关", prop.ForAll(
		func(secondsAgo int64, cleared bool) bool {
			acc := &Account{ValidUntil: now.Add(-time.Duration(secondsAgo) * time.Second), Cleared: cleared}
			return !acc.IsValidAt(now) && acc.ExpireIn(now) <= 0
		},
		gen.Int64Range(0, 10*365*24*3600),
		gen.Bool(),
	))

	properties.Property("未来的 valid_until 有效且 expire_in 为正", prop.ForAll(
		func(secondsAhead int64) bool {
			acc := &Account{ValidUntil: now.Add(time.Duration(secondsAhead) * time.Second)}
			return acc.IsValidAt(now) && acc.ExpireIn(now) == secondsAhead
		},
		gen.Int64Range(1, 10*365*24*3600),
	))

	properties.TestingRun(t)
}

func TestMessage_Sender(t *testing.T) {
	m := &Message{SenderName: "Alice", SenderAddress: "alice@example.com"}
	assert.Equal(t, "Alice <alice@example.com>", m.Sender())

	m.SenderName = ""
	assert.Equal(t, "alice@example.com", m.Sender())
}

func TestAttachment_IsInline(t *testing.T) {
	assert.True(t, (&Attachment{ContentID: "img1"}).IsInline())
	assert.False(t, (&Attachment{}).IsInline())
}
