package service

import (
	"bytes"
	"html"
	"net/url"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"tethbox/backend/internal/domain"
)

// RenderBody 生成用于展示的邮件正文
//
// 有 HTML 正文时重写 cid: 图片引用并让所有链接在新窗口打开；
// 只有纯文本时转义并把换行转换为 <br>；都没有时返回空字符串。
func RenderBody(msg *domain.Message, attachments []domain.Attachment, attachmentURL func(*domain.Attachment) string) string {
	if msg.HTML != "" {
		inline := make(map[string]string)
		for i := range attachments {
			att := &attachments[i]
			if att.IsInline() {
				inline[domain.NormalizeContentID(att.ContentID)] = attachmentURL(att)
			}
		}
		return rewriteHTML(msg.HTML, inline)
	}
	if msg.Text != "" {
		text := strings.ReplaceAll(msg.Text, "\r\n", "\n")
		return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
	}
	return ""
}

func rewriteHTML(src string, inline map[string]string) string {
	body := &nethtml.Node{Type: nethtml.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := nethtml.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return src
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		walk(n, inline)
		if err := nethtml.Render(&buf, n); err != nil {
			return src
		}
	}
	return buf.String()
}

func walk(n *nethtml.Node, inline map[string]string) {
	if n.Type == nethtml.ElementNode {
		switch n.DataAtom {
		case atom.Img:
			rewriteCID(n, inline)
		case atom.A:
			setAttr(n, "target", "_blank")
			setAttr(n, "rel", "noopener noreferrer")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, inline)
	}
}

func rewriteCID(n *nethtml.Node, inline map[string]string) {
	for i, attr := range n.Attr {
		if attr.Key != "src" {
			continue
		}
		value := strings.TrimSpace(attr.Val)
		if len(value) < 4 || !strings.EqualFold(value[:4], "cid:") {
			return
		}

		cid := domain.NormalizeContentID(value[4:])
		target, ok := inline[cid]
		if !ok {
			// RFC 2392 允许 cid URL 使用百分号编码
			if unescaped, err := url.PathUnescape(cid); err == nil {
				target, ok = inline[domain.NormalizeContentID(unescaped)]
			}
		}
		if ok {
			n.Attr[i].Val = target
		}
		return
	}
}

func setAttr(n *nethtml.Node, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, nethtml.Attribute{Key: key, Val: value})
}
