package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// StringPtr 返回字符串的指针，空串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CalculateMD5 计算字节内容的 MD5(十六进制)
func CalculateMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// TextMD5 计算文本的 MD5，用作解析结果缓存的键
func TextMD5(text string) string {
	return CalculateMD5([]byte(text))
}

// ConvertArrayToJSON 将字符串数组转换为 JSON 列，nil 记为 []
func ConvertArrayToJSON(arr []string) datatypes.JSON {
	if len(arr) == 0 {
		return datatypes.JSON("[]")
	}

	jsonBytes, err := json.Marshal(arr)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(jsonBytes)
}

// ConvertJSONToArray ConvertArrayToJSON 的逆操作，非法内容返回空切片
func ConvertJSONToArray(data datatypes.JSON) []string {
	out := []string{}
	if len(data) == 0 {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// FileExt 返回小写的文件扩展名(含点)，没有扩展名时返回空串
func FileExt(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Truncate 按 rune 截断，超出部分用 ... 表示
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}
