package pipeline

import "fmt"

// DefaultStyle is the shared art direction for every node the deterministic
// pipeline creates.
const DefaultStyle = "日漫2D（干净线稿+赛璐璐），现实荒诞→清冷民俗志怪，冷蓝灰夜戏，PG-13克制表达"

const turnaroundNegative = "写实3D，真人照片感，过度肌肉，Q版幼态大头，夸张大眼萌系，复杂背景/场景，三视图不一致（换衣/换发/换脸/比例漂移），多余人物，血腥、断肢、内脏，恐怖特写，强烈霓虹色光，过曝，手指畸形，多本书，多张脸，文字水印"

const storyboardNegative = "写实3D，真人照片感，血腥恐怖特写，怪物实体化扑脸，低俗惊吓，过度夸张超大眼Q版，人物跑脸换装，镜头间角色比例漂移，复杂彩色背景，文字水印"

const propSheetLabel = "道具设定-线装书与恶鬼画像"

const propSheetPrompt = "日漫2D道具设定图：一张画面内包含两部分。\nA区：陈旧线装书三视图（封面正面、侧面书脊、摊开内页），暖黄色硬皮封面，粗麻线穿孔装订，书页泛黄、边缘微卷。\nB区：书页上的“恶鬼插画”设定特写 + 小范围结构分解（只做图案语言，不要实体化）：墨色褪色、线条阴冷、民俗志怪感；不出现血腥。\n背景干净浅灰；信息清晰，适合后续分镜复用。"

const propSheetNegative = "写实摄影、3D渲染、复杂场景背景、血腥/内脏/断肢、跳出纸面实体怪物、低俗恐怖、文字水印"

// CharacterTurnaroundPrompt builds the 3-view reference sheet prompt for one
// main character.
func CharacterTurnaroundPrompt(name, style string) string {
	return "日漫2D角色设定图，三视图同画面（正面/侧面/背面），全身站姿，A-pose（手臂自然下垂略外展）以便看清服装结构；" +
		"三视同一身高、肩宽、头身比一致；脸型五官一致，发型轮廓一致；线条干净利落，赛璐璐平涂，少量材质高光与阴影；" +
		"纯浅灰背景；脚底对齐同一地面线；清晰服装结构与褶皱逻辑（口袋/拉链/领口/袖口可读）；适合后续分镜复用。\n" +
		"角色：" + name + "。\n" +
		"风格：" + style + "。\n" +
		"要求：不要换脸、不要换衣服、不要改变发型分缝；三视一致。"
}

// StoryboardPrompt builds the 3x3 storyboard prompt from a story excerpt.
func StoryboardPrompt(excerpt, style string, durationSeconds int) string {
	return fmt.Sprintf("把下面故事改编成一张 3x3 九宫格分镜图（同一张图里 9 个镜头），日漫2D动画分镜稿风格；"+
		"每格标注镜头号与时长（总时长控制在 10–15 秒）；镜头之间动作与构图要连续衔接。"+
		"优先挑选最关键的 9 个节拍，形成一个可做成 12–15 秒短片的“浓缩版剧情”。\n"+
		"风格：%s。\n"+
		"角色一致性：主要人物必须保持同一张脸、同一发型、同一服装（参考上游角色三视图）。\n"+
		"PG-13：冲突与恐怖用影子/反应镜头/切走/声场暗示，不要血腥与直白扑脸。\n"+
		"目标总时长：%d 秒。\n\n"+
		"故事文本（可裁剪提炼，不要照抄原文长段落）：\n%s\n", style, durationSeconds, excerpt)
}

// ShortFilmPrompt builds the composeVideo prompt for the condensed clip.
func ShortFilmPrompt(durationSeconds int) string {
	return fmt.Sprintf("基于输入的九宫格分镜图生成一段%d秒日漫2D短片。"+
		"风格：2D赛璐璐、干净线条、冷蓝灰色调；恐怖表达克制PG-13：用影子、线条活化、空间轻微扭曲、音画错位；"+
		"不要血腥与直白怪物扑脸。", durationSeconds)
}
