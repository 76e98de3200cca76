package domain

import "strings"

// Attachment 表示邮件附件，属于且仅属于一封邮件。
type Attachment struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`            // 附件唯一标识
	MessageID   string `json:"messageId" gorm:"type:varchar(36);index;not null"` // 所属邮件ID
	Filename    string `json:"filename" gorm:"type:varchar(255)"`                // 文件名
	ContentType string `json:"contentType" gorm:"type:varchar(255)"`             // MIME类型
	Size        int64  `json:"size"`                                             // 入库时按存储字节计算
	ContentID   string `json:"contentId,omitempty" gorm:"type:varchar(255)"`     // 内嵌资源的 Content-ID，普通附件为空
	StoragePath string `json:"-" gorm:"type:varchar(500);not null"`              // blob 存储路径
}

// IsInline 是否为 HTML 正文通过 cid: 引用的内嵌资源。
func (a *Attachment) IsInline() bool {
	return a.ContentID != ""
}

// NormalizeContentID 去掉 Content-ID 两侧的尖括号和空白。
func NormalizeContentID(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "<")
	cid = strings.TrimSuffix(cid, ">")
	return strings.TrimSpace(cid)
}
