package messaging

import "time"

// RefreshEvent 单个 (symbol, data_kind) 刷新结束事件，主题 refresh.<kind>
type RefreshEvent struct {
	Symbol   string    `json:"ts_code"`
	DataKind string    `json:"data_kind"`
	Source   string    `json:"source"`
	Inserted int       `json:"inserted"`
	Updated  int       `json:"updated"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// JobEvent 批量任务状态事件，主题 job.<status>
type JobEvent struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Cached    int       `json:"cached"`
	Failed    int       `json:"failed"`
	At        time.Time `json:"at"`
}
