// Package roles defines the canonical assistant role catalog and the
// per-role canvas permissions. Role ids are stable: the frontend displays
// them and conversation history references them.
package roles

import "strings"

// Role is one selectable assistant persona.
type Role struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Style   string `json:"style"`
}

// DefaultRoleID is used whenever routing fails or returns an unknown id.
const DefaultRoleID = "art_director"

var definitions = []Role{
	{
		ID:      "art_director",
		Name:    "艺术总监",
		Summary: "保持整体创意愿景，审核质量、风格一致性与情绪氛围。",
		Style:   "给出明确的方向、风格基准与质量标准，语气果断。",
	},
	{
		ID:      "scene_designer",
		Name:    "场景设计师",
		Summary: "设计地点与环境，确定空间布局、光影、道具与气氛。",
		Style:   "空间化描述，强调可视化细节与光影层次。",
	},
	{
		ID:      "screenwriter",
		Name:    "编剧",
		Summary: "构思故事创意并写成剧本，涵盖情节、节奏、对白与情绪。",
		Style:   "故事线清晰，分幕/分场标注，语句流畅有画面感。",
	},
	{
		ID:      "product_designer",
		Name:    "产品设计师",
		Summary: "将想象转化为可执行的创作方案与资源需求，定义交付形态。",
		Style:   "结构化说明需求与资源，强调可执行性与交付物。",
	},
	{
		ID:      "character_designer",
		Name:    "角色设计师",
		Summary: "塑造角色外观、服饰、表情与气质，确保栩栩如生且可复现。",
		Style:   "细腻刻画特征与材质，强调跨镜头一致性。",
	},
	{
		ID:      "storyboard_artist",
		Name:    "分镜师",
		Summary: "将剧本与导演意图转为分镜，明确景别、机位、运动与节奏，优先产出可拍/可渲染的镜头清单与提示词草稿。",
		Style:   "分镜化输出，编号镜头，标景别/机位/运动/时长，倾向直接给可执行/可复制的指令。",
	},
	{
		ID:      "music_director",
		Name:    "音乐总监",
		Summary: "为动画创作音乐与音效，设计情绪线、入点/出点与混音思路。",
		Style:   "情绪驱动，标注时间点与层次，给出参考风格或配器。",
	},
	{
		ID:      "magician",
		Name:    "魔术师",
		Summary: "将过于血腥暴力或色情露骨的内容“和谐化”，用隐喻、暗示、影子、遮挡与声音等经典影视手法保留核心叙事但降低直观冲击。",
		Style:   "擅长把直白内容改写成电影化表达：不描写细节，用镜头语言与情绪暗示；保持剧情连贯与可拍性。",
	},
}

// Creative operator roles may mutate the canvas; governance and
// writing-only roles never do. The magician must not touch the canvas
// unless a later turn explicitly confirms it.
var allowedCanvasOps = map[string]map[string]bool{
	"storyboard_artist":  {"createNode": true, "updateNode": true, "connectNodes": true, "runNode": true},
	"character_designer": {"createNode": true, "updateNode": true, "connectNodes": true, "runNode": true},
	"scene_designer":     {"createNode": true, "updateNode": true, "connectNodes": true, "runNode": true},
	"art_director":       {},
	"screenwriter":       {},
	"product_designer":   {},
	"music_director":     {},
	"magician":           {},
}

// Catalog returns the full role list in display order.
func Catalog() []Role {
	out := make([]Role, len(definitions))
	copy(out, definitions)
	return out
}

// ByID looks up a role by id.
func ByID(id string) (Role, bool) {
	for _, r := range definitions {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// Normalize returns id when it names a known role, DefaultRoleID otherwise.
func Normalize(id string) string {
	if _, ok := ByID(id); ok {
		return id
	}
	return DefaultRoleID
}

// Resolve returns the normalized id and its profile.
func Resolve(id string) (string, Role) {
	resolved := Normalize(id)
	r, _ := ByID(resolved)
	return resolved, r
}

// AllowedOps returns the canvas operations the role may perform. The empty
// map means the role never mutates the canvas.
func AllowedOps(id string) map[string]bool {
	ops, ok := allowedCanvasOps[Normalize(id)]
	if !ok {
		return map[string]bool{}
	}
	return ops
}

// RecoverID scans free text for a known role id or Chinese role name and
// returns the first match. Used when structured routing output is garbled.
func RecoverID(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	for _, r := range definitions {
		if strings.Contains(lower, r.ID) || strings.Contains(lower, strings.ToLower(r.Name)) {
			return r.ID, true
		}
	}
	return "", false
}

// PromptBlock formats the catalog for inclusion in the routing prompt.
func PromptBlock() string {
	var b strings.Builder
	for i, r := range definitions {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(r.ID)
		b.WriteString(" | ")
		b.WriteString(r.Name)
		b.WriteString(": ")
		b.WriteString(r.Summary)
		b.WriteString(" (回复风格：")
		b.WriteString(r.Style)
		b.WriteString(")")
	}
	return b.String()
}
