package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

const maxFilenameLength = 200

// SanitizeFilename 清理附件文件名，去掉路径、控制字符和平台不允许的字符
//
// 结果可以安全地放进 Content-Disposition 头；清理后为空时返回 "attachment"。
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}

	for _, char := range invalidChars() {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	filename = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, filename)

	filename = strings.Trim(filename, " .")
	filename = limitLength(filename, maxFilenameLength)
	if filename == "" {
		return "attachment"
	}
	return filename
}

// invalidChars 获取当前平台不允许的字符
func invalidChars() []string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return []string{"/", "\x00", "\""}
	default:
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
}

// limitLength 按字节截断，保留扩展名且不拆分 UTF-8 字符
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	if len(ext) >= maxLen {
		ext = ""
	}
	name := strings.TrimSuffix(s, ext)

	avail := maxLen - len(ext)
	for avail > 0 && !utf8Boundary(name, avail) {
		avail--
	}
	return name[:avail] + ext
}

func utf8Boundary(s string, i int) bool {
	return i >= len(s) || s[i]&0xC0 != 0x80
}

// resolve 将相对 blob 路径转换为根目录下的绝对路径，拒绝越界访问
func resolve(basePath, blobPath string) (string, error) {
	if blobPath == "" {
		return "", fmt.Errorf("empty blob path")
	}
	if filepath.IsAbs(blobPath) || strings.HasPrefix(blobPath, "/") {
		return "", fmt.Errorf("absolute blob path not allowed: %s", blobPath)
	}

	full := filepath.Join(basePath, filepath.FromSlash(blobPath))
	rel, err := filepath.Rel(basePath, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", blobPath)
	}
	return full, nil
}
