package canvas

import (
	"tapcanvas/internal/roles"
	"tapcanvas/internal/types"
)

// Canvas operation names. The frontend resolves nodeId parameters by label
// as well, so tool calls may reference nodes it just asked to create.
const (
	OpCreateNode   = "createNode"
	OpUpdateNode   = "updateNode"
	OpConnectNodes = "connectNodes"
	OpRunNode      = "runNode"
)

func configSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "节点 data 配置（会写入 node.data）。常用字段：kind、prompt、negativePrompt、systemPrompt、keywords、imageModel/videoModel 等。",
		"properties": map[string]interface{}{
			"kind": map[string]interface{}{
				"type":        "string",
				"description": "任务类型（通常由 type 推导），例如 image/textToImage/composeVideo/video。",
			},
			"prompt":         map[string]interface{}{"type": "string", "description": "主提示词"},
			"negativePrompt": map[string]interface{}{"type": "string", "description": "负面提示词"},
			"systemPrompt":   map[string]interface{}{"type": "string", "description": "系统提示词/风格基准"},
			"keywords": map[string]interface{}{
				"type":        []string{"string", "array"},
				"items":       map[string]interface{}{"type": "string"},
				"description": "关键词（可用逗号分隔字符串或数组）",
			},
			"imageModel": map[string]interface{}{"type": "string", "description": "图像模型（可选）"},
			"videoModel": map[string]interface{}{"type": "string", "description": "视频模型（可选）"},
		},
		"additionalProperties": true,
	}
}

// ToolDefinitions returns the four canvas operations exposed to the model.
func ToolDefinitions() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        OpCreateNode,
			Description: "创建画布节点（仅支持 image/textToImage/composeVideo/video）。config 会写入 node.data。",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"type": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"image", "textToImage", "composeVideo", "video"},
						"description": "逻辑节点类型（前端会映射成 taskNode.kind）",
					},
					"label":  map[string]interface{}{"type": "string", "description": "可选：节点标签"},
					"config": configSchema(),
					"remixFromNodeId": map[string]interface{}{
						"type":        "string",
						"description": "可选：基于已有视频节点做 Remix（传入源节点 ID）",
					},
					"position": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"x": map[string]interface{}{"type": "number"},
							"y": map[string]interface{}{"type": "number"},
						},
						"required":             []string{"x", "y"},
						"additionalProperties": false,
						"description":          "可选：节点位置",
					},
				},
				"required":             []string{"type"},
				"additionalProperties": false,
			},
		},
		{
			Name:        OpUpdateNode,
			Description: "更新已存在节点的配置或标签，通常用于写入/修改 prompt。",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"nodeId": map[string]interface{}{
						"type":        "string",
						"description": "节点 ID（也可直接传节点 label；前端会按 label 解析）",
					},
					"label":  map[string]interface{}{"type": "string", "description": "可选：新标签"},
					"config": configSchema(),
				},
				"required":             []string{"nodeId"},
				"additionalProperties": false,
			},
		},
		{
			Name:        OpConnectNodes,
			Description: "连接两个节点，source -> target。",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"sourceNodeId": map[string]interface{}{
						"type":        "string",
						"description": "源节点 ID（也可直接传节点 label；前端会按 label 解析）",
					},
					"targetNodeId": map[string]interface{}{
						"type":        "string",
						"description": "目标节点 ID（也可直接传节点 label；前端会按 label 解析）",
					},
					"sourceHandle": map[string]interface{}{"type": "string", "description": "可选：源手柄"},
					"targetHandle": map[string]interface{}{"type": "string", "description": "可选：目标手柄"},
				},
				"required":             []string{"sourceNodeId", "targetNodeId"},
				"additionalProperties": false,
			},
		},
		{
			Name:        OpRunNode,
			Description: "执行一个节点（例如 composeVideo/image），前端自行处理执行细节。",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"nodeId": map[string]interface{}{
						"type":        "string",
						"description": "节点 ID（也可直接传节点 label；前端会按 label 解析）",
					},
				},
				"required":             []string{"nodeId"},
				"additionalProperties": false,
			},
		},
	}
}

// DefinitionsForRole filters the tool surface by role permissions and the
// per-turn router gate. Returns nil when the turn must stay text-only.
func DefinitionsForRole(roleID string, allowCanvasTools bool) []types.ToolDefinition {
	if !allowCanvasTools {
		return nil
	}
	allowed := roles.AllowedOps(roleID)
	if len(allowed) == 0 {
		return nil
	}
	var out []types.ToolDefinition
	for _, def := range ToolDefinitions() {
		if allowed[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// FilterCallsByRole drops tool calls the active role may not perform.
func FilterCallsByRole(calls []types.ToolCall, roleID string, allowCanvasTools bool) []types.ToolCall {
	if !allowCanvasTools {
		return nil
	}
	allowed := roles.AllowedOps(roleID)
	if len(allowed) == 0 {
		return nil
	}
	var out []types.ToolCall
	for _, c := range calls {
		if allowed[c.Name] {
			out = append(out, c)
		}
	}
	return out
}
