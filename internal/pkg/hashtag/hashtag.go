package hashtag

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`#(\w+)`)

// Extract 从正文中提取 hashtag（去 # 前缀、转小写、去重，保持出现顺序）。
func Extract(content string) []string {
	matches := tagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
