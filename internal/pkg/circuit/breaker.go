package circuit

import (
	"errors"
	"sync"
	"time"

	"aegis/internal/logger"
)

// ErrOpen 熔断打开期间直接拒绝调用。
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"CLOSED", "OPEN", "HALF-OPEN"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Snapshot 是熔断器的只读视图。
type Snapshot struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker 连续失败达到阈值后打开；冷却结束后只放行一个探测请求，
// 探测成功关闭，失败重新计时。
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// WithClock 替换时间源（测试用）。
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	if now != nil {
		cb.mu.Lock()
		cb.now = now
		cb.mu.Unlock()
	}
	return cb
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{Name: cb.name, State: cb.state.String(), Failures: cb.failures, OpenedAt: cb.openedAt}
}

// Allow 报告本次调用能否发出。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	if cb.state != StateClosed {
		cb.openedAt = time.Time{}
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.probing = false
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.threshold) {
		cb.openedAt = cb.now()
		cb.setState(StateOpen)
	}
}

// Do 执行 fn；countable 为 nil 时所有错误都计为失败，
// 不计数的错误视为对端可用。
func (cb *CircuitBreaker) Do(fn func() error, countable func(error) bool) error {
	if !cb.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return err
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	cb.state = to
	logger.Event("circuit state change", "breaker", cb.name, "from", from.String(), "to", to.String(),
		"failures", cb.failures, "threshold", cb.threshold, "cooldown", cb.cooldown)
}
