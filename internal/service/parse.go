package service

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"tethbox/backend/internal/domain"
)

func init() {
	// 国内邮件常把 GBK 内容标成 gb2312
	charset.RegisterEncoding("gb2312", simplifiedchinese.GBK)
	charset.RegisterEncoding("x-gbk", simplifiedchinese.GBK)
	charset.RegisterEncoding("big5-hkscs", traditionalchinese.Big5)
	charset.RegisterEncoding("ks_c_5601-1987", korean.EUCKR)
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// MailAddress 邮件头中的一个地址
type MailAddress struct {
	Name    string
	Address string
}

// String 返回 "Name <addr>" 形式
func (a MailAddress) String() string {
	return domain.FormatAddress(a.Name, a.Address)
}

// MailPart 非正文的 MIME 部分，作为附件或内嵌资源保存。
type MailPart struct {
	Filename    string
	ContentType string
	ContentID   string // 已去掉尖括号
	Data        []byte
}

// ParsedMail 解析后的入站邮件。
type ParsedMail struct {
	From    MailAddress
	To      []MailAddress
	Cc      []MailAddress
	Bcc     []MailAddress
	ReplyTo []MailAddress
	Subject string
	Text    string
	HTML    string
	Parts   []MailPart
}

// DisplayName 在 To/Cc 中查找地址对应的显示名。
//
// 优先精确匹配（本地部分区分大小写），找不到时再忽略大小写匹配。
func (p *ParsedMail) DisplayName(address string) string {
	address = domain.NormalizeAddress(address)
	fallback, found := "", false
	for _, list := range [][]MailAddress{p.To, p.Cc} {
		for _, a := range list {
			candidate := domain.NormalizeAddress(a.Address)
			if candidate == address {
				return a.Name
			}
			if !found && strings.EqualFold(candidate, address) {
				fallback, found = a.Name, true
			}
		}
	}
	return fallback
}

// ParseMail 解析 RFC 5322 邮件，正文与附件解码为原始字节。
//
// 不带文件名的 text/plain 与 text/html 部分作为正文（各取第一个），其余部分都作为附件。
// 未知字符集不视为错误，按原始字节保留。
func ParseMail(r io.Reader) (*ParsedMail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	parsed := &ParsedMail{
		To:      addressList(mr.Header, "To"),
		Cc:      addressList(mr.Header, "Cc"),
		Bcc:     addressList(mr.Header, "Bcc"),
		ReplyTo: addressList(mr.Header, "Reply-To"),
	}
	if from := addressList(mr.Header, "From"); len(from) > 0 {
		parsed.From = from[0]
	}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	} else {
		parsed.Subject = mr.Header.Get("Subject")
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			continue
		}

		data, err := io.ReadAll(part.Body)
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read part body: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, params, _ := h.ContentType()
			filename := decodeWord(params["name"])
			if disp, dparams, err := h.ContentDisposition(); err == nil && disp != "" {
				if name := decodeWord(dparams["filename"]); name != "" {
					filename = name
				}
			}
			if filename == "" && h.Get("Content-Id") == "" {
				if mediaType == "text/plain" && parsed.Text == "" {
					parsed.Text = string(data)
					continue
				}
				if mediaType == "text/html" && parsed.HTML == "" {
					parsed.HTML = string(data)
					continue
				}
			}
			parsed.Parts = append(parsed.Parts, newPart(filename, mediaType, h.Get("Content-Id"), data))
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			mediaType, _, _ := h.ContentType()
			parsed.Parts = append(parsed.Parts, newPart(decodeWord(filename), mediaType, h.Get("Content-Id"), data))
		}
	}
	return parsed, nil
}

func newPart(filename, contentType, contentID string, data []byte) MailPart {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return MailPart{
		Filename:    filename,
		ContentType: contentType,
		ContentID:   domain.NormalizeContentID(contentID),
		Data:        data,
	}
}

// addressList 解析地址头；格式不规范时退回宽松的正则拆分。
func addressList(h mail.Header, key string) []MailAddress {
	list, err := h.AddressList(key)
	if err == nil {
		out := make([]MailAddress, 0, len(list))
		for _, a := range list {
			out = append(out, MailAddress{Name: a.Name, Address: a.Address})
		}
		return out
	}

	raw, err := h.Text(key)
	if err != nil {
		raw = h.Get(key)
	}
	var out []MailAddress
	for _, item := range strings.Split(raw, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		name, addr := domain.ParseAddressHeader(item)
		out = append(out, MailAddress{Name: name, Address: addr})
	}
	return out
}

func decodeWord(s string) string {
	if s == "" {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func joinAddresses(list []MailAddress) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}
