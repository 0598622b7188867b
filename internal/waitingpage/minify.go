// Package waitingpage 实现候车页 HTML 的压缩、语言选择与本地短时缓存。
//
// 压缩本身使用标准库 regexp/strings：检索包中没有任何一个示例仓库引入过
// HTML 压缩库（见 DESIGN.md），因此这是少数几处有意使用标准库而非第三方
// 依赖的地方。
package waitingpage

import (
	"regexp"
	"strings"

	"github.com/omnisbouncer/bouncer/internal/bouncererrors"
)

var (
	htmlCommentRe  = regexp.MustCompile(`<!--[\s\S]*?-->`)
	betweenTagsWS  = regexp.MustCompile(`>\s+<`)
	collapseSpace  = regexp.MustCompile(`[ \t\r\n]+`)
)

// Minify 折叠候车页 HTML 中的注释和多余空白。非常轻量：不解析 DOM，
// 只做对渲染无影响的字节级压缩，足以满足 SPEC_FULL.md §4.2 的"验证后压缩"要求。
//
// 输入为空或明显不是 HTML（既不含 '<' 也不含 '>'）时返回 ErrWaitingPageInvalid。
func Minify(html string) (string, error) {
	trimmed := strings.TrimSpace(html)
	if trimmed == "" || !strings.ContainsAny(trimmed, "<>") {
		return "", bouncererrors.ErrWaitingPageInvalid
	}
	out := htmlCommentRe.ReplaceAllString(trimmed, "")
	out = betweenTagsWS.ReplaceAllString(out, "><")
	out = collapseSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out), nil
}
