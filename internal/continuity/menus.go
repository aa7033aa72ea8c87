package continuity

import "tapcanvas/internal/types"

// SuggestionText introduces the three continuation directions.
const SuggestionText = "给你 3 个续写方向，点一个我就按这个继续写；也可以选“自定义方向”把你想要的走向填进去。"

// SuggestionMenus returns the plot-direction buttons for open-ended
// continuation requests in plan mode.
func SuggestionMenus() []types.QuickReply {
	return []types.QuickReply{
		{
			Label: "方向A：暖心日常",
			Input: "我选择方向A（暖心日常）：请基于当前项目已有剧情与角色关系（沿用同一世界观/场景/氛围）续写下一段 15 秒的小故事。先给我紧凑剧情梗概（3-5句），再生成九宫格分镜（image）并连接到15s视频（composeVideo）。",
		},
		{
			Label: "方向B：轻冒险任务",
			Input: "我选择方向B（轻冒险任务）：请基于当前项目已有剧情续写，加入一个小目标/小危机但保持治愈基调。先给剧情梗概（3-5句），再生成九宫格分镜（image）并连接到15s视频（composeVideo）。",
		},
		{
			Label: "方向C：小悬疑反转",
			Input: "我选择方向C（小悬疑反转）：请基于当前项目已有剧情续写，前半段制造小谜团，结尾温暖反转（不要跳出既有设定）。先给剧情梗概（3-5句），再生成九宫格分镜（image）并连接到15s视频（composeVideo）。",
		},
		{
			Label: "自定义方向…",
			Input: "我想自定义续写方向（基于当前项目已有剧情，不要另起炉灶）：\n- 主题/情绪：\n- 场景：\n- 关键事件：\n- 结尾落点：\n请基于我的填写先给梗概，再做九宫格分镜与15s视频。",
		},
	}
}

// GateFallbackText replaces an empty reply when the gate blocks generation.
const GateFallbackText = "为保证叙事连贯，我需要先锁定“主场景 + 主体数量/清单”。点一个选项确认后，我再在画布里生成九宫格分镜并继续成片。"

// GateAppendText is appended to a non-empty reply when the gate blocks.
const GateAppendText = "\n\n为保证叙事连贯（画风一致、场景不乱跳、主体不增删），请先确认锁定规则；或直接回复「继续」，我将按默认锁定（日漫2D/单主场景/主体不新增）生成九宫格分镜。"

const lockStepSuffix = "。场景沿用当前项目主场景（光线连续，不自由换景）；主体不新增（数量不变）。\n第一步：先为所有主要角色生成可复现的角色设定图/参考图（character/image 节点），并把这些参考图连到后续分镜节点作为引用。\n第二步：再生成 3x3 九宫格分镜图。"

// LockMenus builds the confirmation buttons for the continuity gate. With a
// previously confirmed style lock the first button carries it forward;
// otherwise the user picks a style first.
func LockMenus(styleLock string) []types.QuickReply {
	if styleLock == "" {
		return []types.QuickReply{
			{
				Label: "继续（锁定+先做角色设定图）",
				Input: "确认锁定风格：日漫2D（干净线稿+赛璐璐）" + lockStepSuffix,
			},
			{
				Label: "锁定风格：美漫2D（粗线条）",
				Input: "确认锁定风格：美漫2D（粗线条+高对比）" + lockStepSuffix,
			},
			{
				Label: "锁定风格：写实真人",
				Input: "确认锁定风格：写实真人（电影质感）" + lockStepSuffix,
			},
			{
				Label: "自定义风格…",
				Input: "确认锁定风格：\n- 风格类型（2D日漫/2D美漫/写实/其他）：\n- 线条/材质：\n- 色彩与光影：\n- 镜头语言：\n同时：场景沿用当前项目主场景（光线连续，不自由换景）；主体不新增（数量不变）。填写后请生成 3x3 九宫格分镜图并连线参考图。",
			},
		}
	}
	return []types.QuickReply{
		{
			Label: "继续（按已锁定风格生成分镜）",
			Input: "确认锁定风格：" + styleLock + "。确认锁定：场景沿用当前项目主场景（光线连续，不自由换景）；主体不新增（主角数量不变）。请把剧情压缩成 3x3 九宫格分镜图，并把参考图全部连到分镜节点上。",
		},
		{
			Label: "新增主体…（先出设定图）",
			Input: "我要新增主体（角色/产品/关键道具）：\n- 主体1：\n- 主体2：\n要求：先分别生成每个主体的设定图（image），等我确认后再生成九宫格分镜并连线消费这些设定图。",
		},
		{
			Label: "改场景…（先锁定场景图）",
			Input: "我想锁定新的主场景：\n- 场景描述：\n要求：先生成一张“场景设定图”（image）给我确认；确认后九宫格分镜必须只在该场景内推进（光线连续），再生成15s视频。",
		},
		{
			Label: "自定义锁定规则…",
			Input: "我想自定义锁定规则：\n- 主场景（只能一个）：\n- 允许的过渡场景（可选）：\n- 主体清单（角色/产品/道具）与数量：\n- 禁止事项：\n请按我的规则先补齐必要的设定图，再生成九宫格分镜并继续。",
		},
	}
}

// VetoFallbackText replaces an empty reply when the router withheld canvas
// tools for the turn.
const VetoFallbackText = "我先不动画布。你想先聊清楚需求，还是直接点一个选项让我开始执行？"

// VetoMenus returns the buttons offered when canvas tools are withheld.
func VetoMenus() []types.QuickReply {
	return []types.QuickReply{
		{
			Label: "继续创作（先选方向）",
			Input: "基于我当前项目画布，先给 3 个可选方向（按钮）让我选；我选完你再在画布创建分镜/视频节点。",
		},
		{
			Label: "直接生成（我给具体需求）",
			Input: "我想在画布生成一个内容：\n- 类型（图片/分镜/视频）：\n- 主题：\n- 风格：\n- 时长/比例（如需要）：\n请按我的填写创建节点并执行。",
		},
		{
			Label: "只聊不操作画布",
			Input: "先不操作画布。请先用一句话问我：我想做什么类型的内容、有什么参考、以及希望的风格/时长。",
		},
	}
}
