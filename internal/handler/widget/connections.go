package widget

import "sync"

// Connections 记录每个会话当前的 WebSocket 视图。
type Connections struct {
	mu    sync.RWMutex
	views map[string]*wsView
}

// NewConnections 创建连接表
func NewConnections() *Connections {
	return &Connections{views: make(map[string]*wsView)}
}

// Add 登记视图；同一会话已有连接时关闭旧连接。
func (c *Connections) Add(sessionID string, view *wsView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.views[sessionID]; ok && old != view {
		old.shutdown()
	}
	c.views[sessionID] = view
}

// Remove 仅在登记的仍是该视图时移除。
func (c *Connections) Remove(sessionID string, view *wsView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.views[sessionID]; ok && current == view {
		delete(c.views, sessionID)
	}
}

// Has 报告会话当前是否有连接
func (c *Connections) Has(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.views[sessionID]
	return ok
}

// Count 返回当前连接数
func (c *Connections) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.views)
}

// CloseAll 关闭所有连接
func (c *Connections) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sessionID, view := range c.views {
		view.shutdown()
		delete(c.views, sessionID)
	}
}
