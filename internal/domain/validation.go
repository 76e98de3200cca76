package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

var (
	// 本地部分：字母数字开头结尾，中间允许 . _ - +
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._+-]*[a-zA-Z0-9])?$`)

	// 域名验证（支持子域名，至少一个点）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
)

// EmailValidator 邮箱验证器，用于校验转发目标地址等用户输入。
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 完整验证邮箱地址
func (v *EmailValidator) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}

	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	// 只接受裸地址，不接受 "Name <addr>" 形式
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}

	if err := v.ValidateLocalPart(email[:at]); err != nil {
		return err
	}
	return v.ValidateDomain(email[at+1:])
}

// ValidateLocalPart 验证邮箱本地部分
func (v *EmailValidator) ValidateLocalPart(localPart string) error {
	if localPart == "" {
		return ErrInvalidLocalPart
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidLocalPart
	}
	if strings.Contains(localPart, "..") {
		return ErrInvalidLocalPart
	}
	return nil
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}
