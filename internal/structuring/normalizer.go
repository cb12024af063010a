package structuring

import (
	"regexp"
	"strings"
)

// bulletDelimiter 项目符号分隔符：星号、连字符、圆点，两侧允许任意空白
var bulletDelimiter = regexp.MustCompile(`\s*[*\-•]\s*`)

// Normalize 把章节缓冲区整理为有序条目。
//
// 先按行拆分并丢弃空行，再按项目符号拆分每一行，去除首尾空白并丢弃空片段。
// 输出保持源文本的行顺序以及行内从左到右的顺序；没有项目符号的行正好产生一个条目。
// 对输出的每个条目再次调用 Normalize 得到的是该条目本身。
func Normalize(buffer string) []string {
	items := make([]string, 0)
	for _, line := range strings.Split(buffer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, fragment := range bulletDelimiter.Split(line, -1) {
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				continue
			}
			items = append(items, fragment)
		}
	}
	return items
}
