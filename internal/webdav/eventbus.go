package webdav

import (
	"sort"
	"sync"
)

// Listener 事件监听器。返回 false 表示事件已处理，后续监听器不再执行。
type Listener func(args ...any) (bool, error)

type subscription struct {
	priority int
	seq      int
	fn       Listener
}

// EventBus 按优先级排序的事件总线，每个 Server 持有一个实例
type EventBus struct {
	mu        sync.RWMutex
	listeners map[string][]subscription
	seq       int
}

// NewEventBus 创建事件总线
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[string][]subscription)}
}

// On 订阅事件，priority 越小越先执行，同优先级按订阅顺序执行
func (b *EventBus) On(event string, priority int, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	subs := append(b.listeners[event], subscription{priority: priority, seq: b.seq, fn: fn})
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority < subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.listeners[event] = subs
}

// Listeners 返回某事件的监听器（按执行顺序）
func (b *EventBus) Listeners(event string) []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.listeners[event]
	out := make([]Listener, len(subs))
	for i, s := range subs {
		out[i] = s.fn
	}
	return out
}

// Emit 依次执行监听器。
// 某个监听器返回 false 时停止并返回 false；返回错误时停止并返回该错误。
func (b *EventBus) Emit(event string, args ...any) (bool, error) {
	for _, fn := range b.Listeners(event) {
		cont, err := fn(args...)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}
