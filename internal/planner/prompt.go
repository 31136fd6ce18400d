package planner

import (
	"fmt"

	"github.com/alanmaizon/taskplan/internal/domain"
)

// SystemInstruction fixes the output schema. The model must answer with a
// bare JSON object; json_object mode on the request enforces the envelope.
const SystemInstruction = `你是一名任务分解专家。根据输入的"用户身份"、"核心任务数量"和"每个核心任务的子任务数量"，为该身份规划与其学习、成长或工作相关的核心任务，并为每个核心任务给出子任务。

输出要求：
1. 只输出一个 JSON 对象，不要输出任何解释或说明文字，结构如下：
{
  "core_tasks": ["核心任务1", "核心任务2", ...],
  "sub_tasks_list": [
    ["子任务1-1", "子任务1-2", ...],
    ["子任务2-1", ...],
    ...
  ]
}
2. core_tasks 的长度等于核心任务数量；sub_tasks_list 与 core_tasks 一一对应，每个内层列表的长度等于子任务数量。
3. 任务内容必须与用户身份紧密相关，具体且互不重复。
4. 格式示例（仅供参考）：
{
  "core_tasks": ["Linux基础", "数据结构与算法"],
  "sub_tasks_list": [
    ["Linux简介与环境搭建", "Linux文件系统与基本命令"],
    ["线性表与链表", "树与图"]
  ]
}`

// BuildMessages returns the system instruction followed by the user message.
// Identity is interpolated as-is and counts are not range checked.
func BuildMessages(identity string, coreTaskCount int, subTaskCount int) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: SystemInstruction},
		{Role: domain.RoleUser, Content: userPrompt(identity, coreTaskCount, subTaskCount)},
	}
}

func userPrompt(identity string, coreTaskCount int, subTaskCount int) string {
	return fmt.Sprintf(
		"用户身份：%s\n核心任务数量：%d\n每个核心任务的子任务数量：%d",
		identity,
		coreTaskCount,
		subTaskCount,
	)
}
