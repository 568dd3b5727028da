package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
	"copy-trader-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Redis key 前缀
const (
	mastersKey      = "copytrader:masters"
	followersPrefix = "copytrader:followers" // copytrader:followers:{master} -> set of follower id
	followerPrefix  = "copytrader:follower"  // copytrader:follower:{id} -> JSON
	positionPrefix  = "copytrader:position"  // copytrader:position:{followerID}:{mint} -> JSON
	posIndexPrefix  = "copytrader:positions" // copytrader:positions:{followerID} -> set of mint
	sigPrefix       = "copytrader:sig"       // copytrader:sig:{sig} -> 判重标记
)

// 签名判重 TTL：超过该窗口的主交易不会再被拉到
const sigDedupTTL = 24 * time.Hour

// RedisLedgerStore 是 LedgerStore 的 Redis 实现。
type RedisLedgerStore struct {
	rdb *redis.Client
}

func NewRedisLedgerStore(rdb *redis.Client) *RedisLedgerStore {
	return &RedisLedgerStore{rdb: rdb}
}

// followerRecord 是跟随者在 Redis 中的存储形态。
type followerRecord struct {
	ID                       int64  `json:"id"`
	Wallet                   string `json:"wallet"`
	Label                    string `json:"label"`
	BuyAmountLamports        uint64 `json:"buy_amount_lamports"`
	SlippageBps              uint32 `json:"slippage_bps"`
	PriorityFeeMicroLamports uint64 `json:"priority_fee_micro_lamports"`
	NonceAccount             string `json:"nonce_account,omitempty"`
}

// positionRecord 是持仓在 Redis 中的存储形态。
type positionRecord struct {
	FollowerID int64  `json:"follower_id"`
	Mint       string `json:"mint"`
	AmountRaw  uint64 `json:"amount_raw"`
	SolSpent   uint64 `json:"sol_spent"`
	Active     bool   `json:"active"`
	UpdatedAt  int64  `json:"updated_at"`
}

func (s *RedisLedgerStore) FollowedMasters(ctx context.Context) ([]types.Pubkey, error) {
	members, err := s.rdb.SMembers(ctx, mastersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", mastersKey, err)
	}
	masters := make([]types.Pubkey, 0, len(members))
	for _, m := range members {
		p, err := types.TryPubkeyFromBase58(m)
		if err != nil {
			logger.Warnf("[Store] 主账户地址非法，跳过: %s", m)
			continue
		}
		masters = append(masters, p)
	}
	return masters, nil
}

func (s *RedisLedgerStore) FollowersOfMaster(ctx context.Context, master types.Pubkey) ([]*domain.Follower, error) {
	key := fmt.Sprintf("%s:%s", followersPrefix, master)
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}

	followers := make([]*domain.Follower, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			logger.Warnf("[Store] 跟随者 ID 非法，跳过: %s", idStr)
			continue
		}
		follower, err := s.getFollower(ctx, id)
		if err != nil {
			logger.Warnf("[Store] 读取跟随者 %d 失败: %v", id, err)
			continue
		}
		followers = append(followers, follower)
	}
	return followers, nil
}

func (s *RedisLedgerStore) getFollower(ctx context.Context, id int64) (*domain.Follower, error) {
	key := fmt.Sprintf("%s:%d", followerPrefix, id)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var rec followerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal follower %d: %w", id, err)
	}
	wallet, err := types.TryPubkeyFromBase58(rec.Wallet)
	if err != nil {
		return nil, fmt.Errorf("follower %d wallet: %w", id, err)
	}

	var nonceAccount types.Pubkey
	if rec.NonceAccount != "" {
		nonceAccount, err = types.TryPubkeyFromBase58(rec.NonceAccount)
		if err != nil {
			return nil, fmt.Errorf("follower %d nonce account: %w", id, err)
		}
	}

	return &domain.Follower{
		ID:     rec.ID,
		Wallet: wallet,
		Label:  rec.Label,
		Settings: domain.FollowerSettings{
			FollowerID:               rec.ID,
			BuyAmountLamports:        rec.BuyAmountLamports,
			SlippageBps:              rec.SlippageBps,
			PriorityFeeMicroLamports: rec.PriorityFeeMicroLamports,
			NonceAccount:             nonceAccount,
		},
	}, nil
}

func (s *RedisLedgerStore) GetPosition(ctx context.Context, followerID int64, mint types.Pubkey) (*domain.Position, error) {
	key := fmt.Sprintf("%s:%d:%s", positionPrefix, followerID, mint)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodePosition(raw)
}

func (s *RedisLedgerStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	raw, err := json.Marshal(positionRecord{
		FollowerID: pos.FollowerID,
		Mint:       pos.Mint.String(),
		AmountRaw:  pos.AmountRaw,
		SolSpent:   pos.SolSpent,
		Active:     pos.Active,
		UpdatedAt:  pos.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	key := fmt.Sprintf("%s:%d:%s", positionPrefix, pos.FollowerID, pos.Mint)
	indexKey := fmt.Sprintf("%s:%d", posIndexPrefix, pos.FollowerID)

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, raw, 0)
	if pos.Active {
		pipe.SAdd(ctx, indexKey, pos.Mint.String())
	} else {
		pipe.SRem(ctx, indexKey, pos.Mint.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save position %s: %w", key, err)
	}
	return nil
}

func (s *RedisLedgerStore) ClosePosition(ctx context.Context, followerID int64, mint types.Pubkey) error {
	pos, err := s.GetPosition(ctx, followerID, mint)
	if err != nil {
		return err
	}
	pos.Active = false
	pos.AmountRaw = 0
	pos.UpdatedAt = time.Now().Unix()
	return s.SavePosition(ctx, pos)
}

func (s *RedisLedgerStore) ActivePositions(ctx context.Context, followerID int64) ([]*domain.Position, error) {
	indexKey := fmt.Sprintf("%s:%d", posIndexPrefix, followerID)
	mints, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", indexKey, err)
	}

	positions := make([]*domain.Position, 0, len(mints))
	for _, mintStr := range mints {
		mint, err := types.TryPubkeyFromBase58(mintStr)
		if err != nil {
			continue
		}
		pos, err := s.GetPosition(ctx, followerID, mint)
		if err != nil {
			logger.Warnf("[Store] 读取持仓失败 follower=%d mint=%s: %v", followerID, mintStr, err)
			continue
		}
		if pos.Active {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

// MarkProcessed 用 SetNX 做签名判重；首次标记返回 true。
func (s *RedisLedgerStore) MarkProcessed(ctx context.Context, sig types.Signature) (bool, error) {
	key := fmt.Sprintf("%s:%s", sigPrefix, sig)
	ok, err := s.rdb.SetNX(ctx, key, 1, sigDedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func decodePosition(raw []byte) (*domain.Position, error) {
	var rec positionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	mint, err := types.TryPubkeyFromBase58(rec.Mint)
	if err != nil {
		return nil, fmt.Errorf("position mint: %w", err)
	}
	return &domain.Position{
		FollowerID: rec.FollowerID,
		Mint:       mint,
		AmountRaw:  rec.AmountRaw,
		SolSpent:   rec.SolSpent,
		Active:     rec.Active,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}
