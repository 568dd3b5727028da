package watcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"copy-trader-sol/internal/config"
	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/store"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// TransactionHandler 消费一笔已翻译完成的主交易。
type TransactionHandler func(ctx context.Context, master types.Pubkey, tx *domain.MasterTransaction) error

// GeyserWatcher 通过 yellowstone geyser 流订阅主账户交易，低延迟推送给执行层。
type GeyserWatcher struct {
	mu                    sync.Mutex
	conn                  *grpc.ClientConn
	client                pb.GeyserClient
	stream                pb.Geyser_SubscribeClient
	stopped               bool
	reconnectAttempts     int
	reconnectInterval     time.Duration
	xToken                string
	streamPingIntervalSec int
	sendTimeoutSec        int
	txRecvTimeoutSec      int

	ledger  store.LedgerStore
	handler TransactionHandler
	masters map[types.Pubkey]struct{} // 订阅时的主账户名单快照

	connCtx    context.Context
	connCancel context.CancelFunc
	stopChan   chan struct{}
}

func NewGeyserWatcher(grpcConf config.GrpcConf, ledger store.LedgerStore, handler TransactionHandler) (*GeyserWatcher, error) {
	configTls := &tls.Config{
		InsecureSkipVerify: true,
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(grpcConf.ConnectTimeoutSec)*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		grpcConf.Endpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(configTls)),
		grpc.WithInitialWindowSize(int32(grpcConf.InitialWindowSize)),
		grpc.WithInitialConnWindowSize(int32(grpcConf.InitialConnWindowSize)),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(grpcConf.MaxCallSendMsgSize),
			grpc.MaxCallRecvMsgSize(grpcConf.MaxCallRecvMsgSize),
		),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(grpcConf.KeepalivePingIntervalSec) * time.Second,
			Timeout:             time.Duration(grpcConf.KeepalivePingTimeoutSec) * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %v", err)
	}

	return &GeyserWatcher{
		conn:                  conn,
		client:                pb.NewGeyserClient(conn),
		reconnectInterval:     time.Duration(grpcConf.ReconnectIntervalSec) * time.Second,
		xToken:                grpcConf.XToken,
		streamPingIntervalSec: grpcConf.StreamPingIntervalSec,
		sendTimeoutSec:        grpcConf.SendTimeoutSec,
		txRecvTimeoutSec:      grpcConf.TxRecvTimeoutSec,
		ledger:                ledger,
		handler:               handler,
		stopChan:              make(chan struct{}),
	}, nil
}

func (w *GeyserWatcher) Start() {
	w.mustConnect()
	<-w.stopChan
}

func (w *GeyserWatcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	if w.connCancel != nil {
		w.connCancel()
		w.connCancel = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.mu.Unlock()

	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
}

// mustConnect 内部循环直到连接成功
func (w *GeyserWatcher) mustConnect() {
	for {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		if w.reconnectAttempts > 0 {
			if w.reconnectAttempts > 3 {
				time.Sleep(w.reconnectInterval * 2)
			} else {
				time.Sleep(w.reconnectInterval)
			}
		}
		logger.Infof("[GeyserWatcher] 连接中... 第 %d 次", w.reconnectAttempts+1)
		w.reconnectAttempts++
		if err := w.connect(); err == nil {
			return
		} else {
			logger.Warnf("[GeyserWatcher] 连接失败: %v，稍后重试", err)
		}
	}
}

// buildSubscribeRequest 构造交易订阅过滤：只要主账户名单相关、非 vote、执行成功的交易。
func (w *GeyserWatcher) buildSubscribeRequest(ctx context.Context) (*pb.SubscribeRequest, error) {
	masters, err := w.ledger.FollowedMasters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	if len(masters) == 0 {
		return nil, errors.New("no followed masters")
	}

	include := make([]string, 0, len(masters))
	followed := make(map[types.Pubkey]struct{}, len(masters))
	for _, m := range masters {
		include = append(include, m.String())
		followed[m] = struct{}{}
	}
	w.mu.Lock()
	w.masters = followed
	w.mu.Unlock()

	transactions := make(map[string]*pb.SubscribeRequestFilterTransactions)
	transactions["copytrader"] = &pb.SubscribeRequestFilterTransactions{
		AccountInclude: include,
		Vote:           boolPtr(false),
		Failed:         boolPtr(false),
	}
	commitment := pb.CommitmentLevel_CONFIRMED
	return &pb.SubscribeRequest{
		Transactions: transactions,
		Commitment:   &commitment,
	}, nil
}

// connect 只尝试一次连接
func (w *GeyserWatcher) connect() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errors.New("watcher is stopped")
	}
	if w.connCancel != nil {
		w.connCancel()
		w.connCancel = nil
	}
	w.connCtx, w.connCancel = context.WithCancel(context.Background())
	connCtx := w.connCtx
	w.mu.Unlock()

	metaCtx := metadata.NewOutgoingContext(
		connCtx,
		metadata.New(map[string]string{"x-token": w.xToken}),
	)
	stream, err := w.client.Subscribe(metaCtx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	req, err := w.buildSubscribeRequest(connCtx)
	if err != nil {
		return err
	}
	if err := sendWithTimeout(connCtx, stream.Send, req, time.Duration(w.sendTimeoutSec)*time.Second); err != nil {
		return fmt.Errorf("send subscribe request: %w", err)
	}

	w.mu.Lock()
	w.stream = stream
	w.reconnectAttempts = 0
	w.mu.Unlock()
	logger.Infof("[GeyserWatcher] 连接建立，订阅 %d 个主账户", len(req.Transactions["copytrader"].AccountInclude))

	go w.pingLoop(connCtx, stream)
	go w.txRecvLoop(connCtx, stream)
	return nil
}

func (w *GeyserWatcher) txRecvLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	last := time.Now()
	txTimeout := time.Duration(w.txRecvTimeoutSec) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
			update, err := stream.Recv()
			now := time.Now()
			if err != nil {
				if errors.Is(err, io.EOF) {
					logger.Warnf("[GeyserWatcher] 服务端关闭流 (EOF)，触发重连")
					w.reconnect()
					return
				}
				logger.Warnf("[GeyserWatcher] 流错误: %v", err)
				if w.reconnectIfTimeout(last, txTimeout) {
					return
				}
				time.Sleep(100 * time.Millisecond)
				continue
			}

			switch u := update.GetUpdateOneof().(type) {
			case *pb.SubscribeUpdate_Transaction:
				last = now
				w.dispatch(ctx, u.Transaction)
			case *pb.SubscribeUpdate_Ping:
				// 心跳应答，无需处理
			}
		}

		if w.reconnectIfTimeout(last, txTimeout) {
			return
		}
	}
}

// dispatch 翻译并下发一笔推送交易；主账户取签名者与订阅名单的交集
// （主账户签名但不付手续费时不是第一个 signer）。
func (w *GeyserWatcher) dispatch(ctx context.Context, update *pb.SubscribeUpdateTransaction) {
	if update == nil || update.Transaction == nil {
		return
	}
	tx, err := TranslateStreamTx(update.Slot, update.Transaction)
	if err != nil {
		logger.Warnf("[GeyserWatcher] 翻译交易失败 slot=%d: %v", update.Slot, err)
		return
	}

	w.mu.Lock()
	followed := w.masters
	w.mu.Unlock()

	master, ok := followedSigner(tx.Signers, followed)
	if !ok {
		logger.Debugf("[GeyserWatcher] 签名者均不在主账户名单，忽略 tx=%s", tx.Signature)
		return
	}
	if err := w.handler(ctx, master, tx); err != nil {
		logger.Errorf("[GeyserWatcher] 处理交易失败 tx=%s: %v", tx.Signature, err)
	}
}

// followedSigner 在签名者列表中找出订阅名单内的主账户。
func followedSigner(signers []types.Pubkey, followed map[types.Pubkey]struct{}) (types.Pubkey, bool) {
	for _, s := range signers {
		if _, ok := followed[s]; ok {
			return s, true
		}
	}
	return types.Pubkey{}, false
}

// sendWithTimeout 带超时的 Send
func sendWithTimeout[T any](ctx context.Context, sendFunc func(T) error, req T, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sendFunc(req)
	}()

	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case err := <-done:
		return err
	}
}

// pingLoop 周期性发送流内心跳
func (w *GeyserWatcher) pingLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	ticker := time.NewTicker(time.Duration(w.streamPingIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingReq := &pb.SubscribeRequest{
				Ping: &pb.SubscribeRequestPing{Id: 1},
			}
			if err := sendWithTimeout(ctx, stream.Send, pingReq, time.Duration(w.sendTimeoutSec)*time.Second); err != nil {
				logger.Warnf("[GeyserWatcher] ping 失败: %v", err)
			}
		}
	}
}

func (w *GeyserWatcher) reconnectIfTimeout(last time.Time, timeout time.Duration) bool {
	if timeout > 0 && time.Since(last) > timeout {
		logger.Warnf("[GeyserWatcher] %v 未收到交易，触发重连", timeout)
		w.reconnect()
		return true
	}
	return false
}

func (w *GeyserWatcher) reconnect() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if w.connCancel != nil {
		w.connCancel()
		w.connCancel = nil
	}
	w.mu.Unlock()

	go w.mustConnect()
}

func boolPtr(b bool) *bool {
	return &b
}
