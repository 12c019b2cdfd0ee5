package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the handle of the chain's native asset. It has no
// per-asset price source; its quotes come from the source configured at
// start-up.
var NativeAsset = common.Address{}

// Asset is the registry entry for one depositable asset.
type Asset struct {
	Address     common.Address
	Decimals    uint8
	Supported   bool
	PriceSource string // empty for NativeAsset
}

// IsNative reports whether the asset is the designated native asset.
func (a Asset) IsNative() bool {
	return a.Address == NativeAsset
}

// BalanceKey is the in-memory key for balance tracking (40 bytes, comparable)
type BalanceKey struct {
	User  common.Address
	Asset common.Address
}

func NewBalanceKey(user, asset common.Address) BalanceKey {
	return BalanceKey{User: user, Asset: asset}
}

// Path returns the string representation for storage/logging
func (k BalanceKey) Path() string {
	if k.Asset == NativeAsset {
		return fmt.Sprintf("user:%s:native", k.User.Hex())
	}
	return fmt.Sprintf("user:%s:%s", k.User.Hex(), k.Asset.Hex())
}
