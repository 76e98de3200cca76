package domain

import "time"

// Message 表示一封投递到账户的邮件，属于且仅属于一个账户。
type Message struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID       int64     `json:"accountId" gorm:"index:idx_messages_account_date,priority:1;not null"`
	SenderName      string    `json:"senderName" gorm:"type:varchar(255)"`
	SenderAddress   string    `json:"senderAddress" gorm:"type:varchar(255)"`
	ReceiverName    string    `json:"receiverName" gorm:"type:varchar(255)"`
	ReceiverAddress string    `json:"receiverAddress" gorm:"type:varchar(255)"`
	ReplyTo         string    `json:"replyTo,omitempty" gorm:"type:varchar(500)"`
	CC              string    `json:"cc,omitempty" gorm:"column:cc;type:text"`
	BCC             string    `json:"bcc,omitempty" gorm:"column:bcc;type:text"`
	Subject         string    `json:"subject" gorm:"type:varchar(500)"`
	Date            time.Time `json:"date" gorm:"index:idx_messages_account_date,priority:2"` // 入库时间，不取自邮件头
	Text            string    `json:"text,omitempty" gorm:"type:text"`
	HTML            string    `json:"html,omitempty" gorm:"type:text"` // 已清洗的 HTML
	Read            bool      `json:"read" gorm:"default:false"`
}

// Sender 返回用于展示的发件人。
func (m *Message) Sender() string {
	return FormatAddress(m.SenderName, m.SenderAddress)
}
