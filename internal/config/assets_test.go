package config_test

import (
	"CustodyVault/internal/config"
	"CustodyVault/internal/ledger"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const manifest = `
assets:
  - symbol: ETH
    native: true
    decimals: 18
  - symbol: WETH
    address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    decimals: 18
    priceSource: "chainlink:0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
  - symbol: USDC
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
    priceSource: "feed:USDC-USD"
    supported: false
`

func TestParseAssetManifest(t *testing.T) {
	assets, err := config.ParseAssetManifest([]byte(manifest))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(assets))
	}

	if !assets[0].IsNative() || assets[0].PriceSource != "" || !assets[0].Supported {
		t.Errorf("native entry: %+v", assets[0])
	}

	weth := assets[1]
	if weth.Address != common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") || weth.Decimals != 18 {
		t.Errorf("weth entry: %+v", weth)
	}
	if !weth.Supported {
		t.Error("supported should default to true")
	}

	if assets[2].Supported || assets[2].Decimals != 6 || assets[2].PriceSource != "feed:USDC-USD" {
		t.Errorf("usdc entry: %+v", assets[2])
	}
}

func TestParseAssetManifestRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "assets: [\n"},
		{"bad address", "assets:\n  - symbol: X\n    address: nope\n    decimals: 6\n"},
		{"zero address", "assets:\n  - symbol: X\n    address: \"0x0000000000000000000000000000000000000000\"\n    decimals: 6\n"},
		{"native with address", "assets:\n  - native: true\n    address: \"0x00000000000000000000000000000000000000E1\"\n    decimals: 18\n"},
		{"duplicate", "assets:\n  - symbol: A\n    address: \"0x00000000000000000000000000000000000000E1\"\n    decimals: 6\n  - symbol: B\n    address: \"0x00000000000000000000000000000000000000e1\"\n    decimals: 6\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.ParseAssetManifest([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadAssetManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}

	assets, err := config.LoadAssetManifest(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(assets) != 3 || assets[0].Address != ledger.NativeAsset {
		t.Errorf("unexpected assets: %+v", assets)
	}

	if _, err := config.LoadAssetManifest(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
