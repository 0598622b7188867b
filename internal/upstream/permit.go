package upstream

// Permit 是一次成功的上游选择：持有期间，对应上游的一个连接名额被占用。
// 调用方必须在请求处理完毕后调用 Release，所有退出路径（正常返回、panic
// 恢复、超时取消）都必须释放——RAII 风格的资源归还，
// 对应教师仓库 xsemaphore.Permit 的本地化简版（SPEC_FULL.md §4.4/§5）。
type Permit struct {
	uri    string
	server *server // nil 表示 cache-load 许可：不持有真实的连接信号量
}

// URI 返回本许可绑定的上游地址。
func (p *Permit) URI() string {
	return p.uri
}

// Release 归还许可。对 cache-load 许可（server==nil）是空操作。
// 对同一个 Permit 重复调用 Release 是编程错误（双重释放信号量），调用方
// 必须保证每个 Permit 只释放一次。
func (p *Permit) Release() {
	if p.server != nil {
		p.server.releaseConn()
	}
}
