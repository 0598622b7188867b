// Package eventbus 实现一个进程内的类型化多生产者/多消费者广播总线。
//
// 每个订阅者拥有独立的有界缓冲区；缓冲区溢出时丢弃最旧的事件（drop-oldest），
// 生产者永不阻塞。这是 SPEC_FULL.md §4.2/§5/§9 所要求的"有损订阅者"语义。
package eventbus

import "sync"

// Kind 是封闭事件集合（SPEC_FULL.md §3）。
type Kind int

const (
	SettingsChanged Kind = iota
	WaitingPageChanged
	QueueAdded
	QueueExpired
	QueueRemoved
	StoreAdded
	StoreExpired
)

// String 返回事件名称，也是 QueueEvents 桥接外部 pub/sub 时使用的线格式。
func (k Kind) String() string {
	switch k {
	case SettingsChanged:
		return "SettingsChanged"
	case WaitingPageChanged:
		return "WaitingPageChanged"
	case QueueAdded:
		return "QueueAdded"
	case QueueExpired:
		return "QueueExpired"
	case QueueRemoved:
		return "QueueRemoved"
	case StoreAdded:
		return "StoreAdded"
	case StoreExpired:
		return "StoreExpired"
	default:
		return "Unknown"
	}
}

// ParseKind 将线格式字符串还原为 Kind；未知字符串返回 ok=false。
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "SettingsChanged":
		return SettingsChanged, true
	case "WaitingPageChanged":
		return WaitingPageChanged, true
	case "QueueAdded":
		return QueueAdded, true
	case "QueueExpired":
		return QueueExpired, true
	case "QueueRemoved":
		return QueueRemoved, true
	case "StoreAdded":
		return StoreAdded, true
	case "StoreExpired":
		return StoreExpired, true
	default:
		return 0, false
	}
}

// Event 是总线上流动的值：事件种类加上所属前缀（多前缀部署下区分来源）。
type Event struct {
	Kind   Kind
	Prefix string
}

// DefaultBufferSize 是每个订阅者的默认缓冲容量。
const DefaultBufferSize = 64

// Bus 是一个多生产者/多消费者广播总线。零值不可用，使用 New 构造。
type Bus struct {
	mu          sync.Mutex
	subscribers map[*subscription]struct{}
	bufferSize  int
}

// New 构造一个总线，每个订阅者的缓冲区容量为 bufferSize（<=0 时使用默认值）。
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[*subscription]struct{}),
		bufferSize:  bufferSize,
	}
}

type subscription struct {
	ch chan Event
}

// Subscription 是 Subscribe 返回的句柄。
type Subscription struct {
	bus *Bus
	sub *subscription
}

// C 返回事件通道；消费者应在一个循环中读取，直到总线或进程关闭。
func (s *Subscription) C() <-chan Event {
	return s.sub.ch
}

// Unsubscribe 将该订阅者从总线移除并关闭其通道。
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s.sub)
	s.bus.mu.Unlock()
	close(s.sub.ch)
}

// Subscribe 注册一个新的订阅者，返回其句柄。
func (b *Bus) Subscribe() *Subscription {
	sub := &subscription{ch: make(chan Event, b.bufferSize)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{bus: b, sub: sub}
}

// Publish 向所有当前订阅者广播一个事件。没有订阅者时是一次成功的空操作
// （SPEC_FULL.md §4.2 "向空总线发送即为成功"）。慢消费者的缓冲区已满时，
// 丢弃该订阅者队列中最旧的一条，为新事件腾出空间——生产者本身永不阻塞。
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// 缓冲区已满：丢弃最旧的一条，再重试一次。
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				// 并发消费者恰好清空又填满了缓冲区；放弃本次投递，视为事件丢失。
			}
		}
	}
}

// SubscriberCount 返回当前订阅者数量，用于诊断/指标。
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
