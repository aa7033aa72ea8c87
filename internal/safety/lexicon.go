package safety

import "strings"

// replacement pairs are applied in order so multi-character terms win over
// their substrings.
type replacement struct {
	from string
	to   string
}

var sexualLexicon = []replacement{
	{"无码", "（不展示细节）"},
	{"露点", "穿着完整（不露骨）"},
	{"裸体", "穿着完整（不露骨）"},
	{"性交", "亲密互动（不露骨）"},
	{"做爱", "亲密互动（不露骨）"},
	{"口交", "亲密互动（不露骨）"},
	{"肛交", "亲密互动（不露骨）"},
	{"强奸", "性侵（不展示细节，仅点到为止）"},
	{"迷奸", "性侵（不展示细节，仅点到为止）"},
	{"porn", "（不露骨）"},
}

var violentLexicon = []replacement{
	{"爆头", "强烈冲击（不展示细节）"},
	{"脑浆", "冲击性的后果（不展示细节）"},
	{"断肢", "受伤倒下（不展示细节）"},
	{"肢解", "镜头切走（用暗示表达）"},
	{"开膛", "镜头切走（用暗示表达）"},
	{"剖腹", "镜头切走（用暗示表达）"},
	{"割喉", "镜头切走（用暗示表达）"},
	{"斩首", "镜头切走（用暗示表达）"},
	{"砍头", "镜头切走（用暗示表达）"},
	{"内脏", "不展示细节"},
	{"肠子", "不展示细节"},
	{"碎尸", "不展示细节"},
	{"喷血", "用剪影/反应镜头表达冲击（不展示细节）"},
	{"血浆", "用光影/音效表达冲击（不展示细节）"},
	{"血肉模糊", "画面用遮挡/虚焦表达（不展示细节）"},
}

const sexualNegativeSuffix = "nude, naked, explicit sex, porn, nipples, genitalia"

const violentNegativeSuffix = "gore, dismemberment, intestines, brains, blood splatter close-up, explicit violence, torture porn, nude, explicit sex"

// SoftenSexual rewrites explicit sexual terms into PG-13 phrasing.
func SoftenSexual(text string) string {
	return applyLexicon(text, sexualLexicon)
}

// SoftenViolent rewrites graphic violence terms into implied phrasing.
func SoftenViolent(text string) string {
	return applyLexicon(text, violentLexicon)
}

func applyLexicon(text string, lex []replacement) string {
	for _, r := range lex {
		text = strings.ReplaceAll(text, r.from, r.to)
	}
	return text
}

// appendNegative adds suffix to an existing negative prompt unless it is
// already present.
func appendNegative(existing, suffix string) string {
	if strings.Contains(existing, suffix) {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return suffix
	}
	return existing + "\n" + suffix
}
