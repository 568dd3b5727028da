package store

import (
	"context"
	"errors"

	"copy-trader-sol/internal/logic/domain"
	"copy-trader-sol/internal/types"
)

// ErrPositionNotFound 表示跟随者在指定 mint 下没有持仓记录。
var ErrPositionNotFound = errors.New("position not found")

// LedgerStore 管理跟单台账：主账户名单、跟随者配置、持仓记录与签名判重。
type LedgerStore interface {
	// FollowedMasters 返回当前被跟踪的全部主账户地址。
	FollowedMasters(ctx context.Context) ([]types.Pubkey, error)

	// FollowersOfMaster 返回跟踪某主账户的全部跟随者（含配置）。
	FollowersOfMaster(ctx context.Context, master types.Pubkey) ([]*domain.Follower, error)

	// GetPosition 读取跟随者在指定 mint 下的持仓；不存在时返回 ErrPositionNotFound。
	GetPosition(ctx context.Context, followerID int64, mint types.Pubkey) (*domain.Position, error)

	// SavePosition 写入（覆盖）一条持仓记录。
	SavePosition(ctx context.Context, pos *domain.Position) error

	// ClosePosition 将持仓标记为非活跃（卖出完成后调用）。
	ClosePosition(ctx context.Context, followerID int64, mint types.Pubkey) error

	// ActivePositions 返回跟随者当前全部活跃持仓。
	ActivePositions(ctx context.Context, followerID int64) ([]*domain.Position, error)

	// MarkProcessed 对主交易签名做持久化判重；首次标记返回 true。
	MarkProcessed(ctx context.Context, sig types.Signature) (bool, error)
}
