package config

import (
	"copy-trader-sol/pkg/logger"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// RpcConf 表示 Solana RPC 节点配置
type RpcConf struct {
	Endpoint string `yaml:"endpoint"` // RPC 节点地址
}

// KafkaConf 表示通知通道配置
type KafkaConf struct {
	Enabled bool   `yaml:"enabled"` // 是否启用 Kafka 通知
	Brokers string `yaml:"brokers"` // Kafka broker 地址，多个用英文逗号分隔
	Topic   string `yaml:"topic"`   // 跟单结果 topic
}

// GrpcConf 是 geyser gRPC 客户端连接配置
type GrpcConf struct {
	Endpoint string `yaml:"endpoint"` // gRPC 服务端地址
	XToken   string `yaml:"x_token"`  // x-token 认证

	// 应用级逻辑心跳（ping）配置
	StreamPingIntervalSec int `yaml:"stream_ping_interval_sec"` // 应用层 ping 心跳间隔（秒）

	// gRPC Keepalive 底层连接检测配置
	KeepalivePingIntervalSec int `yaml:"keepalive_ping_interval_sec"` // 底层 keepalive 间隔（秒）
	KeepalivePingTimeoutSec  int `yaml:"keepalive_ping_timeout_sec"`  // 底层 keepalive 超时（秒）

	// gRPC 窗口大小调优（用于大数据流推送）
	InitialWindowSize     int `yaml:"initial_window_size"`      // 单流窗口大小（字节）
	InitialConnWindowSize int `yaml:"initial_conn_window_size"` // 整体连接窗口大小（字节）

	// 消息体大小限制
	MaxCallSendMsgSize int `yaml:"max_call_send_msg_size"` // 单条消息最大发送字节数
	MaxCallRecvMsgSize int `yaml:"max_call_recv_msg_size"` // 单条消息最大接收字节数

	// 超时与重连策略
	ReconnectIntervalSec int `yaml:"reconnect_interval_sec"` // 重连最小间隔（秒）
	ConnectTimeoutSec    int `yaml:"connect_timeout_sec"`    // 连接建立超时（秒）
	SendTimeoutSec       int `yaml:"send_timeout_sec"`       // 发送超时（秒）
	TxRecvTimeoutSec     int `yaml:"tx_recv_timeout_sec"`    // 无交易推送的重连阈值（秒）
}

// WatcherConf 表示主账户监听配置
type WatcherConf struct {
	// Mode: rpc（仅轮询）/ geyser（仅流式）/ both（流式为主，轮询兜底）
	Mode           string   `yaml:"mode"`
	PollIntervalMs int      `yaml:"poll_interval_ms"` // RPC 轮询间隔（毫秒）
	SignatureLimit int      `yaml:"signature_limit"`  // 单次轮询拉取的签名数
	Grpc           GrpcConf `yaml:"grpc"`             // geyser 连接配置
}

// ExecutorConf 表示识别与执行层配置
type ExecutorConf struct {
	MinTradeLamports       uint64 `yaml:"min_trade_lamports"`       // 主交易 SOL 侧的最小跟单门槛
	ConfirmTimeoutSec      int    `yaml:"confirm_timeout_sec"`      // 跟单交易确认等待上限（秒）
	FollowerLockTTLSec     int    `yaml:"follower_lock_ttl_sec"`    // 跟单者锁强制回收时限（秒）
	MaxConcurrentFollowers int    `yaml:"max_concurrent_followers"` // 单笔主交易的扇出并发上限，0 不限
	BlockhashRefreshMs     int    `yaml:"blockhash_refresh_ms"`     // blockhash 缓存刷新间隔（毫秒）
	JupiterQuoteURL        string `yaml:"jupiter_quote_url"`        // 聚合器询价地址，空用默认
	JupiterSwapURL         string `yaml:"jupiter_swap_url"`         // 聚合器换币地址，空用默认
}

// WalletConf 表示单个跟单者钱包配置
type WalletConf struct {
	FollowerID int64  `yaml:"follower_id"`
	Label      string `yaml:"label"`
	PrivateKey string `yaml:"private_key"` // base58 私钥，仅金库内部解析
}

// VaultConf 表示签名金库配置
type VaultConf struct {
	Wallets []WalletConf `yaml:"wallets"`
}

// Config 是主配置结构体，用于驱动跟单服务
type Config struct {
	LogConf      LogConfig    `yaml:"logger"`   // 日志配置
	RpcConf      RpcConf      `yaml:"rpc"`      // RPC 节点配置
	KafkaConf    KafkaConf    `yaml:"kafka"`    // 通知通道配置
	WatcherConf  WatcherConf  `yaml:"watcher"`  // 主账户监听配置
	ExecutorConf ExecutorConf `yaml:"executor"` // 识别与执行配置
	VaultConf    VaultConf    `yaml:"vault"`    // 签名金库配置

	RedisAddr string `yaml:"redis_addr"` // Redis 地址
}
