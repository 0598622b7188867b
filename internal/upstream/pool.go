package upstream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omnisbouncer/bouncer/internal/qid"
)

// retryInterval 是 AcquireStickySessionPermit 在两次完整扫描之间的等待间隔，
// 与 original_source/src/upstream.rs 的 new_sticky_uri 循环节奏一致。
const retryInterval = time.Second

// Pool 是一组上游服务器的并发安全集合。零值不可用，使用 New 构造。
//
// 读多写少：Upstreams/AcquireConnectionPermit/AcquireStickySessionPermit 持有
// 读锁；AddUpstreams/RemoveURIs 持有写锁。单台服务器的连接/粘性状态各自
// 独立加锁，持有 Pool 读锁期间不会阻塞在某台服务器的状态变更上。
type Pool struct {
	mu           sync.RWMutex
	servers      []*server
	nextID       int
	stickyExpiry time.Duration
}

// New 构造一个空池，粘性会话过期时间为 stickyExpiry。
func New(stickyExpiry time.Duration) *Pool {
	if stickyExpiry <= 0 {
		stickyExpiry = DefaultStickyExpiry
	}
	return &Pool{nextID: 1, stickyExpiry: stickyExpiry}
}

// Upstreams 返回池中所有上游配置快照（已移除的服务器不在 p.servers 中）。
func (p *Pool) Upstreams() []Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Upstream, 0, len(p.servers))
	for _, s := range p.servers {
		out = append(out, s.toUpstream())
	}
	return out
}

// AddUpstreams 将尚未存在（按 URI 去重）的上游加入池中。
func (p *Pool) AddUpstreams(ups []Upstream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	existing := make(map[string]struct{}, len(p.servers))
	for _, s := range p.servers {
		existing[s.uri] = struct{}{}
	}
	for _, u := range ups {
		if _, ok := existing[u.URI]; ok {
			continue
		}
		p.servers = append(p.servers, newServer(p.nextID, u))
		p.nextID++
		existing[u.URI] = struct{}{}
	}
}

// RemoveURIs 从池中移除匹配给定 URI 集合的服务器。正在使用中的连接许可不受
// 影响（信号量本身不关心服务器是否已从池中摘除）；新的选择不会再命中它们。
func (p *Pool) RemoveURIs(uris []string) {
	drop := make(map[string]struct{}, len(uris))
	for _, u := range uris {
		drop[u] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.servers[:0]
	for _, s := range p.servers {
		if _, ok := drop[s.uri]; ok {
			continue
		}
		kept = append(kept, s)
	}
	p.servers = kept
}

// liveServers 返回池中服务器的快照（持有读锁调用）；已移除的服务器不在
// p.servers 中，RemoveURIs 在写锁下直接从切片中摘除它们。
func (p *Pool) liveServers() []*server {
	out := make([]*server, len(p.servers))
	copy(out, p.servers)
	return out
}

func byLeastConnections(servers []*server) []*server {
	sorted := append([]*server(nil), servers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].currentConnections() < sorted[j].currentConnections()
	})
	return sorted
}

func byLeastSticky(servers []*server) []*server {
	sorted := append([]*server(nil), servers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].currentSticky(), sorted[j].currentSticky()
		if si != sj {
			return si < sj
		}
		return sorted[i].currentConnections() < sorted[j].currentConnections()
	})
	return sorted
}

// AcquireCacheLoadPermit 返回当前连接数最少、未满的上游，不持有任何真实的
// 连接许可——缓存加载请求刻意绕过限流，因为后续命中都会走本地缓存
// （SPEC_FULL.md §4.4）。池为空或所有上游都满时返回 ok=false。
func (p *Pool) AcquireCacheLoadPermit() (*Permit, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range byLeastConnections(p.liveServers()) {
		if !s.full() {
			return &Permit{uri: s.uri}, true
		}
	}
	return nil, false
}

// AcquireConnectionPermit 返回连接数最少的未满上游及其连接许可。快速路径
// 非阻塞扫描；全部暂时满载时，在所有上游的信号量上并发阻塞等待，直到
// 任意一个释放出名额或 timeout 到期。
func (p *Pool) AcquireConnectionPermit(ctx context.Context, timeout time.Duration) (*Permit, bool) {
	p.mu.RLock()
	servers := byLeastConnections(p.liveServers())
	p.mu.RUnlock()

	for _, s := range servers {
		if !s.full() && s.tryAcquireConn() {
			return &Permit{uri: s.uri, server: s}, true
		}
	}
	if len(servers) == 0 {
		return nil, false
	}
	return p.raceAcquire(ctx, servers, timeout)
}

type acquireResult struct {
	uri    string
	server *server
}

// raceAcquire 在给定服务器集合上并发发起阻塞 Acquire，第一个成功者获胜，
// 其余在获胜后成功完成的获取会被立即释放。对应
// original_source/src/upstream.rs 的 JoinSet + timeout-sleep 竞速模式。
func (p *Pool) raceAcquire(ctx context.Context, servers []*server, timeout time.Duration) (*Permit, bool) {
	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan acquireResult, len(servers))
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *server) {
			defer wg.Done()
			if err := s.connSem.Acquire(raceCtx, 1); err != nil {
				return
			}
			s.connCount.Add(1)
			select {
			case results <- acquireResult{uri: s.uri, server: s}:
			default:
				// 已有赢家；归还本次多余获取的许可。
				s.releaseConn()
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	select {
	case res, ok := <-results:
		if !ok {
			return nil, false
		}
		cancel() // 通知尚未完成的 Acquire 尽快放弃
		return &Permit{uri: res.uri, server: res.server}, true
	case <-raceCtx.Done():
		return nil, false
	}
}

// AcquireStickySessionPermit 若 id 已绑定到某台上游，则返回该上游的一个新
// 连接许可（服务器已满则返回 ok=false，不漫游到其他服务器——粘性优先于
// 负载均衡）。否则按 least-sticky-sessions 策略寻找新的绑定，在 timeout
// 内重复尝试。
func (p *Pool) AcquireStickySessionPermit(ctx context.Context, id qid.QID, timeout time.Duration) (*Permit, bool) {
	p.mu.RLock()
	servers := p.liveServers()
	p.mu.RUnlock()

	for _, s := range servers {
		if s.containsSticky(id) {
			s.touchSticky(id)
			if s.tryAcquireConn() {
				return &Permit{uri: s.uri, server: s}, true
			}
			return nil, false
		}
	}
	return p.newStickyPermit(ctx, id, timeout)
}

func (p *Pool) newStickyPermit(ctx context.Context, id qid.QID, timeout time.Duration) (*Permit, bool) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		if permit, ok := p.tryNewSticky(id); ok {
			return permit, true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

// tryNewSticky 扫描一次 least-sticky-sessions 顺序的上游，尝试占用一个连接
// 许可并绑定粘性条目；若绑定失败（并发竞争下服务器恰好在此刻满载），
// 归还已占用的连接许可并继续下一台。
func (p *Pool) tryNewSticky(id qid.QID) (*Permit, bool) {
	p.mu.RLock()
	servers := byLeastSticky(p.liveServers())
	p.mu.RUnlock()

	for _, s := range servers {
		if s.full() {
			continue
		}
		if !s.tryAcquireConn() {
			continue
		}
		if s.tryAddSticky(id) {
			return &Permit{uri: s.uri, server: s}, true
		}
		s.releaseConn()
	}
	return nil, false
}

// ExpireStickySessions 移除所有上游中超过池配置过期时间未被访问的粘性条目，
// 返回被移除的全部 QID（供调用方据此发出 QueueRemoved 之外的清理信号，若有）。
func (p *Pool) ExpireStickySessions() []qid.QID {
	now := time.Now()
	p.mu.RLock()
	servers := p.liveServers()
	p.mu.RUnlock()

	var removed []qid.QID
	for _, s := range servers {
		removed = append(removed, s.expireSticky(now, p.stickyExpiry)...)
	}
	return removed
}

// RemoveStickySession 从所有上游中移除一个粘性绑定（例如收到显式驱逐信号时）。
func (p *Pool) RemoveStickySession(id qid.QID) {
	p.mu.RLock()
	servers := p.liveServers()
	p.mu.RUnlock()
	for _, s := range servers {
		s.removeSticky(id)
	}
}
