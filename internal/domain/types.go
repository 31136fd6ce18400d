package domain

import "encoding/json"

type MessageRole string

const (
	RoleSystem MessageRole = "system"
	RoleUser   MessageRole = "user"
)

const TaskGenerationFailed = "Task generation failed"

type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

type PlanRequest struct {
	Identity      string
	CoreTaskCount int
	SubTaskCount  int
	Provider      string
}

// TaskPlan is the plan as the provider produced it. The typed fields are a
// best-effort view; MarshalJSON re-emits the provider object so unknown keys
// and unexpected shapes reach the caller untouched.
type TaskPlan struct {
	CoreTasks    []string   `json:"core_tasks"`
	SubTasksList [][]string `json:"sub_tasks_list"`

	raw json.RawMessage
}

func NewTaskPlan(raw json.RawMessage) *TaskPlan {
	plan := &TaskPlan{raw: append(json.RawMessage(nil), raw...)}
	var typed struct {
		CoreTasks    []string   `json:"core_tasks"`
		SubTasksList [][]string `json:"sub_tasks_list"`
	}
	if err := json.Unmarshal(raw, &typed); err == nil {
		plan.CoreTasks = typed.CoreTasks
		plan.SubTasksList = typed.SubTasksList
	}
	return plan
}

func (p TaskPlan) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	type plain TaskPlan
	return json.Marshal(plain(p))
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type ProviderInfo struct {
	Name       string `json:"name"`
	BaseURL    string `json:"baseUrl"`
	Model      string `json:"model"`
	Configured bool   `json:"configured"`
}

type ProvidersResponse struct {
	Active    string         `json:"active"`
	Providers []ProviderInfo `json:"providers"`
}
