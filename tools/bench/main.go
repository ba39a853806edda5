package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// -------------------- 系统监控 --------------------

type SystemStats struct {
	Timestamp   time.Time
	MemoryUsage float64
	MemoryTotal uint64
	MemoryUsed  uint64
	Goroutines  int
}

type Monitor struct {
	stats    []SystemStats
	interval time.Duration
	stopChan chan struct{}
}

func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		stats:    make([]SystemStats, 0, 512),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func getMemoryUsage() (usagePercent float64, total, used uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total = m.Sys
	used = m.Alloc
	if total > 0 {
		usagePercent = float64(used) / float64(total) * 100
	}
	return
}

func (m *Monitor) collectStats() SystemStats {
	memUsage, memTotal, memUsed := getMemoryUsage()
	stats := SystemStats{
		Timestamp:   time.Now(),
		MemoryUsage: memUsage,
		MemoryTotal: memTotal,
		MemoryUsed:  memUsed,
		Goroutines:  runtime.NumGoroutine(),
	}
	m.stats = append(m.stats, stats)
	return stats
}

func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.printStats(m.collectStats())
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() { close(m.stopChan) }

func (m *Monitor) printStats(s SystemStats) {
	fmt.Printf("[%s] 内存: %.1f%% (%.1fMB/%.1fMB) | Goroutines: %d\n",
		s.Timestamp.Format("15:04:05"), s.MemoryUsage,
		float64(s.MemoryUsed)/1024/1024, float64(s.MemoryTotal)/1024/1024,
		s.Goroutines,
	)
}

func (m *Monitor) GenerateReport() {
	if len(m.stats) == 0 {
		fmt.Println("没有监控数据")
		return
	}
	var sumMem float64
	var sumGo int
	var maxMem float64
	var maxGo int
	for _, s := range m.stats {
		sumMem += s.MemoryUsage
		sumGo += s.Goroutines
		if s.MemoryUsage > maxMem {
			maxMem = s.MemoryUsage
		}
		if s.Goroutines > maxGo {
			maxGo = s.Goroutines
		}
	}
	n := float64(len(m.stats))
	fmt.Println("\n=== 系统监控报告 ===")
	fmt.Printf("持续: %v\n", m.stats[len(m.stats)-1].Timestamp.Sub(m.stats[0].Timestamp))
	fmt.Printf("平均内存: %.1f%%, 峰值内存: %.1f%%\n", sumMem/n, maxMem)
	fmt.Printf("平均Goroutine: %d, 峰值Goroutine: %d\n", int(float64(sumGo)/n+0.5), maxGo)
}

// -------------------- HTTP 并发压测 --------------------

type APITestStats struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	AverageLatency     time.Duration
	MaxLatency         time.Duration
	MinLatency         time.Duration
	mu                 sync.Mutex
}

func (s *APITestStats) Add(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRequests++
	if success {
		s.SuccessfulRequests++
		if s.AverageLatency == 0 {
			s.AverageLatency = latency
			s.MaxLatency = latency
			s.MinLatency = latency
		} else {
			s.AverageLatency = (s.AverageLatency + latency) / 2
			if latency > s.MaxLatency {
				s.MaxLatency = latency
			}
			if latency < s.MinLatency {
				s.MinLatency = latency
			}
		}
	} else {
		s.FailedRequests++
	}
}

var httpClient = &http.Client{Timeout: 8 * time.Second}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func request(method, url, token string, body interface{}) (*envelope, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env.Code != 200 {
		return &env, fmt.Errorf("code=%d message=%s", env.Code, env.Message)
	}
	return &env, nil
}

// registerUser 注册压测用户，返回access_token
func registerUser(base, username string) (string, error) {
	env, err := request("POST", base+"/api/v1/users/register", "", map[string]string{
		"username": username,
		"email":    username + "@bench.local",
		"password": "bench123456",
	})
	if err != nil {
		return "", err
	}
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", err
	}
	return data.AccessToken, nil
}

// createGroup 创建压测群聊，返回conversation id
func createGroup(base, token string, memberIDs []uint) (uint, error) {
	env, err := request("POST", base+"/api/v1/conversations", token, map[string]interface{}{
		"kind":       "group",
		"name":       fmt.Sprintf("bench-%d", time.Now().UnixNano()),
		"member_ids": memberIDs,
	})
	if err != nil {
		return 0, err
	}
	var data struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, err
	}
	return data.ID, nil
}

// runMessageBench 多协程向同一群聊发消息并翻页读取
func runMessageBench(base string, tokens []string, convID uint, perGoroutine int) {
	fmt.Println("\n=== 消息并发测试开始 ===")
	fmt.Printf("目标会话: %d 并发: %d 每协程消息: %d\n", convID, len(tokens), perGoroutine)

	stats := &APITestStats{}
	var wg sync.WaitGroup
	start := time.Now()

	postURL := fmt.Sprintf("%s/api/v1/conversations/%d/messages", base, convID)
	listURL := fmt.Sprintf("%s/api/v1/conversations/%d/messages?limit=20", base, convID)
	readURL := fmt.Sprintf("%s/api/v1/conversations/%d/read", base, convID)

	for i, token := range tokens {
		wg.Add(1)
		go func(id int, token string) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				t0 := time.Now()
				_, err := request("POST", postURL, token, map[string]string{
					"content": fmt.Sprintf("bench message %d-%d", id, j),
				})
				stats.Add(err == nil, time.Since(t0))

				// 每5条读一页并推进已读水位
				if j%5 == 4 {
					t0 = time.Now()
					_, err = request("GET", listURL, token, nil)
					stats.Add(err == nil, time.Since(t0))

					t0 = time.Now()
					_, err = request("POST", readURL, token, map[string]string{})
					stats.Add(err == nil, time.Since(t0))
				}

				time.Sleep(5 * time.Millisecond)
			}
		}(i, token)
	}

	wg.Wait()

	took := time.Since(start)
	fmt.Println("\n=== 消息测试结果 ===")
	fmt.Printf("耗时: %v\n", took)
	fmt.Printf("总请求: %d 成功: %d 失败: %d\n", stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)
	fmt.Printf("延迟 平均: %v 最大: %v 最小: %v\n", stats.AverageLatency, stats.MaxLatency, stats.MinLatency)
	if took > 0 {
		qps := float64(stats.SuccessfulRequests) / took.Seconds()
		fmt.Printf("QPS: %.2f\n", qps)
	}
	if stats.TotalRequests > 0 {
		rate := float64(stats.SuccessfulRequests) / float64(stats.TotalRequests) * 100
		fmt.Printf("成功率: %.2f%%\n", rate)
	}
}

// -------------------- 入口 --------------------

func main() {
	concurrency := 5
	perGoroutine := 20

	if len(os.Args) > 1 {
		if val, err := strconv.Atoi(os.Args[1]); err == nil {
			concurrency = val
		}
	}
	if len(os.Args) > 2 {
		if val, err := strconv.Atoi(os.Args[2]); err == nil {
			perGoroutine = val
		}
	}

	baseURL := "http://localhost:8080"

	fmt.Println("=== OA-IM 消息并发测试 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Printf("目标: %s 并发: %d 每协程消息: %d\n", baseURL, concurrency, perGoroutine)

	// 注册压测用户
	suffix := time.Now().UnixNano()
	tokens := make([]string, 0, concurrency)
	memberIDs := make([]uint, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		username := fmt.Sprintf("bench_%d_%d", suffix, i)
		token, err := registerUser(baseURL, username)
		if err != nil {
			fmt.Printf("注册用户失败: %v\n", err)
			return
		}
		tokens = append(tokens, token)

		// 从profile取用户ID
		env, err := request("GET", baseURL+"/api/v1/users/profile", token, nil)
		if err != nil {
			fmt.Printf("获取用户信息失败: %v\n", err)
			return
		}
		var profile struct {
			ID uint `json:"id"`
		}
		if err := json.Unmarshal(env.Data, &profile); err != nil {
			fmt.Printf("解析用户信息失败: %v\n", err)
			return
		}
		memberIDs = append(memberIDs, profile.ID)
	}
	fmt.Printf("已注册 %d 个压测用户\n", concurrency)

	// 第一个用户建群并拉入全部用户
	convID, err := createGroup(baseURL, tokens[0], memberIDs[1:])
	if err != nil {
		fmt.Printf("创建压测群聊失败: %v\n", err)
		return
	}
	fmt.Printf("压测群聊已创建: %d\n", convID)

	mon := NewMonitor(1 * time.Second)
	mon.Start()

	runMessageBench(baseURL, tokens, convID, perGoroutine)

	mon.Stop()
	time.Sleep(100 * time.Millisecond)
	mon.GenerateReport()

	fmt.Println("\n=== 测试完成 ===")
}
