package monitor

import (
	"sort"
	"sync"
	"time"

	"PortfolioAgent/pkg/logger"
)

const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Message     string    `json:"message,omitempty"`
}

// Monitor 组件健康检查
type Monitor struct {
	checks     map[string]func() error
	components map[string]*HealthStatus
	mutex      sync.RWMutex
	log        *logger.Logger
	now        func() time.Time
}

// NewMonitor 创建新的监控系统
func NewMonitor(log *logger.Logger) *Monitor {
	return &Monitor{
		checks:     make(map[string]func() error),
		components: make(map[string]*HealthStatus),
		log:        log,
		now:        time.Now,
	}
}

// RegisterComponent 注册组件及其检查函数
func (m *Monitor) RegisterComponent(component string, check func() error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.checks[component] = check
	m.components[component] = &HealthStatus{
		Component:   component,
		Status:      StatusUnknown,
		LastChecked: m.now(),
	}
}

// UpdateStatus 更新组件状态，变为不健康时记录告警
func (m *Monitor) UpdateStatus(component, status, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cur, exists := m.components[component]
	if !exists {
		cur = &HealthStatus{Component: component}
		m.components[component] = cur
	}

	oldStatus := cur.Status
	cur.Status = status
	cur.LastChecked = m.now()
	cur.Message = message

	if oldStatus == status {
		return
	}
	if status != StatusHealthy {
		m.log.Warn("组件状态异常",
			logger.String("component", component),
			logger.String("status", status),
			logger.String("message", message))
	} else if oldStatus == StatusUnhealthy {
		m.log.Info("组件已恢复", logger.String("component", component))
	}
}

// GetStatus 获取组件状态
func (m *Monitor) GetStatus(component string) *HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if status, exists := m.components[component]; exists {
		copied := *status
		return &copied
	}
	return nil
}

// GetAllStatus 按组件名排序返回所有组件状态
func (m *Monitor) GetAllStatus() []HealthStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	statuses := make([]HealthStatus, 0, len(m.components))
	for _, status := range m.components {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Component < statuses[j].Component })
	return statuses
}

// CheckAll 执行全部检查，返回是否全部健康
func (m *Monitor) CheckAll() bool {
	m.mutex.RLock()
	checks := make(map[string]func() error, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mutex.RUnlock()

	healthy := true
	for name, check := range checks {
		if err := check(); err != nil {
			m.UpdateStatus(name, StatusUnhealthy, err.Error())
			healthy = false
			continue
		}
		m.UpdateStatus(name, StatusHealthy, "")
	}
	return healthy
}

// StartChecking 开始定期检查，返回停止函数
func (m *Monitor) StartChecking(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				m.CheckAll()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
