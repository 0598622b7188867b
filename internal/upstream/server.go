package upstream

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/omnisbouncer/bouncer/internal/qid"
)

// server 是池中一台上游服务器的内部表示：连接许可与粘性会话各自独立限流、
// 独立加锁，使得对一台服务器的操作永不阻塞另一台。
type server struct {
	id             int
	uri            string
	maxConnections int64
	connSem        *semaphore.Weighted
	connCount      atomic.Int64

	maxSticky int64
	stickyMu  sync.RWMutex
	sticky    map[qid.QID]time.Time
}

func newServer(id int, u Upstream) *server {
	return &server{
		id:             id,
		uri:            u.URI,
		maxConnections: u.Connections,
		connSem:        semaphore.NewWeighted(u.Connections),
		maxSticky:      u.StickySessions,
		sticky:         make(map[qid.QID]time.Time, u.StickySessions),
	}
}

func (s *server) currentConnections() int64 {
	return s.connCount.Load()
}

func (s *server) full() bool {
	return s.currentConnections() >= s.maxConnections
}

// tryAcquireConn 尝试非阻塞获取一个连接许可。
func (s *server) tryAcquireConn() bool {
	if !s.connSem.TryAcquire(1) {
		return false
	}
	s.connCount.Add(1)
	return true
}

func (s *server) releaseConn() {
	s.connCount.Add(-1)
	s.connSem.Release(1)
}

func (s *server) containsSticky(id qid.QID) bool {
	s.stickyMu.RLock()
	defer s.stickyMu.RUnlock()
	_, ok := s.sticky[id]
	return ok
}

func (s *server) currentSticky() int {
	s.stickyMu.RLock()
	defer s.stickyMu.RUnlock()
	return len(s.sticky)
}

func (s *server) fullSticky() bool {
	return int64(s.currentSticky()) >= s.maxSticky
}

// tryAddSticky 尝试将 id 绑定到本服务器；服务器已满时返回 false，不做任何修改。
func (s *server) tryAddSticky(id qid.QID) bool {
	if s.fullSticky() {
		return false
	}
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	if int64(len(s.sticky)) >= s.maxSticky {
		return false
	}
	s.sticky[id] = time.Now()
	return true
}

// touchSticky 刷新某个已存在粘性条目的最后访问时间。
func (s *server) touchSticky(id qid.QID) {
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	if _, ok := s.sticky[id]; ok {
		s.sticky[id] = time.Now()
	}
}

func (s *server) removeSticky(id qid.QID) {
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	delete(s.sticky, id)
}

// expireSticky 移除所有超过 expiry 未被访问的粘性条目，返回被移除的 QID。
func (s *server) expireSticky(now time.Time, expiry time.Duration) []qid.QID {
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	var removed []qid.QID
	for id, last := range s.sticky {
		if now.Sub(last) >= expiry {
			removed = append(removed, id)
			delete(s.sticky, id)
		}
	}
	return removed
}

func (s *server) toUpstream() Upstream {
	return Upstream{URI: s.uri, Connections: s.maxConnections, StickySessions: s.maxSticky}
}
