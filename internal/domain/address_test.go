package domain

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func TestEncodeAddress_Zero(t *testing.T) {
	assert.Equal(t, "0", EncodeLocalPart(0))
	assert.Equal(t, "0@tethbox.test", EncodeAddress(0, "tethbox.test"))
}

func TestEncodeLocalPart_Vectors(t *testing.T) {
	tests := []struct {
		id   int64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{9, "9"},
		{10, "A"},
		{35, "Z"},
		{36, "a"},
		{52, "q"},
		{61, "z"},
		{62, "10"},
		{3843, "zz"},
		{3844, "100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeLocalPart(tt.id), "id %d", tt.id)
	}
	assert.NotEqual(t, EncodeLocalPart(0), EncodeLocalPart(52))
}

func TestEncodeAddress_LowercasesDomain(t *testing.T) {
	assert.Equal(t, EncodeLocalPart(42)+"@mail.example.com", EncodeAddress(42, "Mail.Example.COM"))
}

func TestEncodeAddress_NegativePanics(t *testing.T) {
	assert.Panics(t, func() { EncodeLocalPart(-1) })
}

func TestEncodeAddress_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("不同 ID 生成不同地址", prop.ForAll(
		func(a, b int64) bool {
			if a == b {
				return true
			}
			return EncodeAddress(a, "tethbox.test") != EncodeAddress(b, "tethbox.test")
		},
		gen.Int64Range(0, 1<<62),
		gen.Int64Range(0, 1<<62),
	))

	properties.Property("相邻 ID 生成不同地址", prop.ForAll(
		func(a int64) bool {
			return EncodeLocalPart(a) != EncodeLocalPart(a+1)
		},
		gen.Int64Range(0, 1<<62),
	))

	properties.Property("按字母表还原得到原 ID", prop.ForAll(
		func(id int64) bool {
			var n int64
			for _, r := range EncodeLocalPart(id) {
				n = n*62 + int64(strings.IndexRune(base62Alphabet, r))
			}
			return n == id
		},
		gen.Int64Range(0, 1<<62),
	))

	properties.Property("编码是确定的", prop.ForAll(
		func(id int64) bool {
			return EncodeAddress(id, "tethbox.test") == EncodeAddress(id, "tethbox.test")
		},
		gen.Int64Range(0, 1<<62),
	))

	properties.Property("本地部分非空且只含 base62 字符", prop.ForAll(
		func(id int64) bool {
			local := EncodeLocalPart(id)
			if local == "" || len(local) > 11 {
				return false
			}
			for _, r := range local {
				if !strings.ContainsRune(base62Alphabet, r) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 1<<62),
	))

	properties.TestingRun(t)
}

func TestParseAddressHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantNam string
		wantAdr string
	}{
		{"quoted name", `"Alice Example" <alice@example.com>`, "Alice Example", "alice@example.com"},
		{"bare name", `Bob <bob@example.com>`, "Bob", "bob@example.com"},
		{"angle only", `<carol@example.com>`, "", "carol@example.com"},
		{"bare address", `  dave@example.com `, "", "dave@example.com"},
		{"spaces inside brackets", `Eve < eve@example.com >`, "Eve", "eve@example.com"},
		{"empty", ``, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, addr := ParseAddressHeader(tt.header)
			assert.Equal(t, tt.wantNam, name)
			assert.Equal(t, tt.wantAdr, addr)
		})
	}
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "alice@example.com", FormatAddress("", "alice@example.com"))
	assert.Equal(t, "Alice <alice@example.com>", FormatAddress("Alice", "alice@example.com"))
}

func TestNormalizeContentID(t *testing.T) {
	assert.Equal(t, "img1", NormalizeContentID("<img1>"))
	assert.Equal(t, "img1", NormalizeContentID(" img1 "))
	assert.Equal(t, "", NormalizeContentID("<>"))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "aZ3@tethbox.test", NormalizeAddress(" <aZ3@TethBox.TEST> "))
	assert.Equal(t, "A@tethbox.test", NormalizeAddress("A@tethbox.test"))
	assert.Equal(t, "no-at", NormalizeAddress("no-at"))
}
