package websocket

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"oa-im/config"
	"oa-im/internal/repository"
	dbPkg "oa-im/pkg/db"
	"oa-im/pkg/jwt"
	"oa-im/pkg/redis"
	"oa-im/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// WsHandler Gin路由处理函数
// 连接建立后标记在线状态，心跳维持；业务事件（新消息/输入/回应）
// 由服务层通过 Manager 推送到这里建立的连接
func WsHandler(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Sec-WebSocket-Protocol"), "Bearer ")
	}
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}

	jwtCfg := c.MustGet("jwt_config").(config.JWTConfig) // main.go注入
	jwtSvc := jwt.NewJWTService(jwtCfg)
	claims, err := jwtSvc.ValidateToken(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}
	userID, _ := strconv.ParseUint(claims.Subject, 10, 32)
	if userID == 0 {
		response.Unauthorized(c, "token无效")
		return
	}

	// 回显子协议，避免客户端提示 "Server sent no subprotocol"
	respHeader := http.Header{}
	if protocol := c.GetHeader("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", protocol)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		return
	}

	client := &Client{
		UserID: uint(userID),
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}
	GetManager().AddClient(uint(userID), client)

	username := ""
	if u, ok := claims.Data["username"].(string); ok {
		username = u
	}

	// 连接建立：数据库与Redis双写在线状态
	if db := dbPkg.GetDB(); db != nil {
		userRepo := repository.NewUserRepository(db)
		_ = userRepo.UpdateStatus(uint(userID), "online")
	}
	_ = redis.SetUserPresence(uint(userID), username, "online")

	defer func() {
		GetManager().RemoveClient(uint(userID), client)

		// 连接关闭：标记离线
		if db := dbPkg.GetDB(); db != nil {
			userRepo := repository.NewUserRepository(db)
			_ = userRepo.UpdateStatus(uint(userID), "offline")
		}
		_ = redis.SetUserPresence(uint(userID), username, "offline")
	}()

	// 从上下文读取心跳配置
	wsCfg := c.MustGet("ws_config").(config.WebSocketConfig)

	// 写协程 + 定时发送ping心跳
	// done 可能被ping协程（写失败）和读循环退出两侧关闭，用Once防止二次close
	done := make(chan struct{})
	var closeDone sync.Once
	stop := func() { closeDone.Do(func() { close(done) }) }
	go func() {
		ticker := time.NewTicker(wsCfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				_ = conn.WriteMessage(websocket.TextMessage, msg)
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
					stop()
					return
				}
			}
		}
	}()

	// 读协程（接收心跳）。若超时未收到任何读事件则断开
	_ = conn.SetReadDeadline(time.Now().Add(wsCfg.ReadTimeout))
	conn.SetPongHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(wsCfg.ReadTimeout))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsCfg.ReadTimeout))
		var msg map[string]interface{}
		if err := json.Unmarshal(payload, &msg); err == nil {
			if t, ok := msg["type"].(string); ok && t == "heartbeat" {
				// 刷新用户在线状态（延长TTL）
				_ = redis.RefreshUserPresence(uint(userID))
				if db := dbPkg.GetDB(); db != nil {
					userRepo := repository.NewUserRepository(db)
					_ = userRepo.UpdateStatus(uint(userID), "online")
				}
			}
		}
	}
	stop()
}
