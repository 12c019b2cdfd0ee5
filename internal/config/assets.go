package config

import (
	"CustodyVault/internal/ledger"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// AssetManifest lists the assets registered at start-up.
type AssetManifest struct {
	Assets []AssetEntry `yaml:"assets"`
}

// AssetEntry is one asset in the manifest. Native entries leave address and
// priceSource empty; the native source comes from VAULT_NATIVE_PRICE_SOURCE.
type AssetEntry struct {
	Symbol      string `yaml:"symbol"`
	Address     string `yaml:"address"`
	Native      bool   `yaml:"native"`
	Decimals    uint8  `yaml:"decimals"`
	PriceSource string `yaml:"priceSource"`
	Supported   *bool  `yaml:"supported"` // defaults to true
}

// LoadAssetManifest reads and parses the manifest at path.
func LoadAssetManifest(path string) ([]ledger.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset manifest %s: %w", path, err)
	}
	assets, err := ParseAssetManifest(data)
	if err != nil {
		return nil, fmt.Errorf("asset manifest %s: %w", path, err)
	}
	return assets, nil
}

// ParseAssetManifest decodes manifest YAML into ledger assets. Structural
// problems are reported here; decimals and price sources are validated
// again when the assets are registered.
func ParseAssetManifest(data []byte) ([]ledger.Asset, error) {
	var m AssetManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset manifest: %w", err)
	}

	seen := make(map[common.Address]string, len(m.Assets))
	assets := make([]ledger.Asset, 0, len(m.Assets))

	for i, e := range m.Assets {
		name := e.Symbol
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}

		var addr common.Address
		switch {
		case e.Native:
			if e.Address != "" && common.HexToAddress(e.Address) != ledger.NativeAsset {
				return nil, fmt.Errorf("asset %s: native asset must not set an address", name)
			}
			addr = ledger.NativeAsset
		case common.IsHexAddress(e.Address):
			addr = common.HexToAddress(e.Address)
			if addr == ledger.NativeAsset {
				return nil, fmt.Errorf("asset %s: zero address is reserved for the native asset", name)
			}
		default:
			return nil, fmt.Errorf("asset %s: invalid address %q", name, e.Address)
		}

		if prev, dup := seen[addr]; dup {
			return nil, fmt.Errorf("asset %s: duplicate of %s", name, prev)
		}
		seen[addr] = name

		supported := true
		if e.Supported != nil {
			supported = *e.Supported
		}

		assets = append(assets, ledger.Asset{
			Address:     addr,
			Decimals:    e.Decimals,
			Supported:   supported,
			PriceSource: strings.TrimSpace(e.PriceSource),
		})
	}

	return assets, nil
}
