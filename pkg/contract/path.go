package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 统一为 '/' 分隔并 Clean；不做绝对化。
// 对象键与清单 ID 依赖它在各平台上得到同一表示。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}
