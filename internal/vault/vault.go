package vault

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"copy-trader-sol/internal/types"

	sdktypes "github.com/blocto/solana-go-sdk/types"
)

// ErrWalletMissing 表示跟单者没有配置签名钱包。
var ErrWalletMissing = errors.New("wallet not found for follower")

// SigningIdentity 表示一个签名能力：核心流程只拿到公钥与签名函数，接触不到原始私钥。
type SigningIdentity interface {
	PublicKey() types.Pubkey
	Label() string
	Sign(message []byte) ([]byte, error)
}

// Vault 表示钱包托管接口。
type Vault interface {
	GetSigningIdentity(followerID int64) (SigningIdentity, error)
}

// MemoryVault 是进程内钱包托管实现，启动时从配置载入。
type MemoryVault struct {
	mu      sync.RWMutex
	wallets map[int64]*memoryIdentity
}

type memoryIdentity struct {
	pubkey  types.Pubkey
	label   string
	private ed25519.PrivateKey
}

func (id *memoryIdentity) PublicKey() types.Pubkey {
	return id.pubkey
}

func (id *memoryIdentity) Label() string {
	return id.label
}

func (id *memoryIdentity) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(id.private, message), nil
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{wallets: make(map[int64]*memoryIdentity)}
}

// AddWallet 按 base58 私钥载入一个跟单者钱包。
func (v *MemoryVault) AddWallet(followerID int64, label, base58Key string) error {
	account, err := sdktypes.AccountFromBase58(base58Key)
	if err != nil {
		return fmt.Errorf("invalid wallet key for follower %d: %w", followerID, err)
	}

	var pub types.Pubkey
	copy(pub[:], account.PublicKey.Bytes())

	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallets[followerID] = &memoryIdentity{
		pubkey:  pub,
		label:   label,
		private: account.PrivateKey,
	}
	return nil
}

func (v *MemoryVault) GetSigningIdentity(followerID int64) (SigningIdentity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.wallets[followerID]
	if !ok {
		return nil, fmt.Errorf("follower %d: %w", followerID, ErrWalletMissing)
	}
	return id, nil
}
