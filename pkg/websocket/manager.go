package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client 代表一个WebSocket连接的用户
// UserID: 用户ID
// Conn: WebSocket连接
// Send: 发送消息的通道

type Client struct {
	UserID uint
	Conn   *websocket.Conn
	Send   chan []byte
}

// Manager 管理所有在线用户的WebSocket连接
// 推送是尽力而为：用户不在线或通道已满时直接丢弃
// （可靠投递不在本系统范围内，客户端依靠HTTP拉取兜底）

type Manager struct {
	clients map[uint]*Client // 在线用户
	lock    sync.RWMutex
}

var manager = &Manager{
	clients: make(map[uint]*Client),
}

// GetManager 获取全局WebSocket管理器
func GetManager() *Manager {
	return manager
}

// AddClient 添加新连接
func (m *Manager) AddClient(userID uint, client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if old, ok := m.clients[userID]; ok {
		close(old.Send)
	}
	m.clients[userID] = client
}

// RemoveClient 移除连接
// 只在传入的连接仍然是当前注册连接时生效：
// 同一用户重连后，旧连接的清理不能误关新连接的通道
func (m *Manager) RemoveClient(userID uint, client *Client) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.clients[userID]; ok && c == client {
		close(c.Send)
		delete(m.clients, userID)
	}
}

// SendToUser 推送消息给指定用户（不在线则丢弃）
func (m *Manager) SendToUser(userID uint, msg []byte) {
	m.lock.RLock()
	client, ok := m.clients[userID]
	m.lock.RUnlock()
	if !ok {
		return
	}
	select {
	case client.Send <- msg:
	default:
		// 通道已满，可能连接已断开
	}
}

// SendToUsers 推送消息给多个用户
func (m *Manager) SendToUsers(userIDs []uint, msg []byte) {
	for _, id := range userIDs {
		m.SendToUser(id, msg)
	}
}

// IsOnline 判断用户是否在线
func (m *Manager) IsOnline(userID uint) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.clients[userID]
	return ok
}
