package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jxskiss/base62"
)

// localPartEncoding 数字、大写、小写依次排列的 base62 字母表
var localPartEncoding = base62.NewEncoding("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// addressHeaderRegex 宽松匹配 `"Name" <addr>` 与 `Name <addr>` 形式。
var addressHeaderRegex = regexp.MustCompile(`(.*)<(.+)>`)

// EncodeLocalPart 将账户 ID 编码为 base62 本地部分（0-9A-Za-z）。
//
// 0 编码为 "0"，本地部分不会为空。
func EncodeLocalPart(id int64) string {
	if id < 0 {
		panic(fmt.Sprintf("domain: negative account id %d", id))
	}
	return string(localPartEncoding.FormatUint(uint64(id)))
}

// EncodeAddress 将账户 ID 渲染为完整邮箱地址。
func EncodeAddress(id int64, mailDomain string) string {
	return EncodeLocalPart(id) + "@" + strings.ToLower(mailDomain)
}

// ParseAddressHeader 把邮件头中的地址拆成 (显示名, 地址)。
//
// 无法匹配尖括号形式时整个值被视为裸地址。
func ParseAddressHeader(header string) (name, address string) {
	if m := addressHeaderRegex.FindStringSubmatch(header); m != nil {
		return strings.Trim(m[1], ` "`), strings.Trim(m[2], ` "`)
	}
	return "", strings.TrimSpace(header)
}

// FormatAddress 组合显示名与地址。
func FormatAddress(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// NormalizeAddress 去掉尖括号并把域名转为小写。
//
// 本地部分是大小写敏感的 base62 编码，保持原样。
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	return addr[:at] + "@" + strings.ToLower(addr[at+1:])
}
