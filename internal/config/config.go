// Package config содержит логику чтения конфигурации магазина.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/furnishop-system/internal/model"
)

// Config содержит параметры конфигурации магазина.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	QuoteSourceAddress string `env:"QUOTE_SOURCE_ADDRESS"`
	NetworksFile       string `env:"NETWORKS_FILE"`

	RecipientWallet string `env:"RECIPIENT_WALLET" envDefault:"0x3fd86c3728b38cb6b09fa7d4914888dcfef1518c"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	AuthSecret      string `env:"AUTH_SECRET" envDefault:"furnishop-secret"`
	AdminToken      string `env:"ADMIN_TOKEN"`

	SMTPAddress  string `env:"SMTP_ADDRESS"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	FreeShippingThreshold int64 `env:"FREE_SHIPPING_THRESHOLD" envDefault:"5000000"`
	ShippingFee           int64 `env:"SHIPPING_FEE" envDefault:"200000"`
	DefaultUSDTRate       int64 `env:"DEFAULT_USDT_RATE" envDefault:"25000"`

	SessionTimeout      time.Duration `env:"PAYMENT_SESSION_TIMEOUT" envDefault:"15m"`
	RateRefreshInterval time.Duration `env:"RATE_REFRESH_INTERVAL" envDefault:"5m"`
	TxRetention         time.Duration `env:"TX_RETENTION" envDefault:"24h"`
	TxAbandonAfter      time.Duration `env:"TX_ABANDON_AFTER" envDefault:"72h"`

	// Networks заполняется из NetworksFile либо встроенным набором сетей.
	Networks map[int64]model.Network `env:"-"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envQuoteAddress := cfg.QuoteSourceAddress
	envNetworksFile := cfg.NetworksFile

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.QuoteSourceAddress, "q", "", "USDT quote source address")
	flag.StringVar(&cfg.NetworksFile, "n", "", "path to networks config JSON")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envQuoteAddress != "" {
		cfg.QuoteSourceAddress = envQuoteAddress
	}
	if envNetworksFile != "" {
		cfg.NetworksFile = envNetworksFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	networks, err := LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return nil, err
	}
	cfg.Networks = networks

	return cfg, nil
}

// LoadNetworks загружает таблицу поддерживаемых сетей из JSON-файла.
// При пустом пути возвращается встроенный набор сетей.
func LoadNetworks(path string) (map[int64]model.Network, error) {
	if path == "" {
		return defaultNetworks(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}

	var list []model.Network
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse networks file: %w", err)
	}

	networks := make(map[int64]model.Network, len(list))
	for _, n := range list {
		if n.ChainID == 0 || n.RPCURL == "" {
			return nil, fmt.Errorf("network %q: chain_id and rpc are required", n.Name)
		}
		if n.MinConfirmations <= 0 {
			n.MinConfirmations = 12
		}
		networks[n.ChainID] = n
	}

	return networks, nil
}

// defaultNetworks возвращает встроенную таблицу сетей с контрактами USDT.
// Глубина подтверждений у каждой сети своя: компромисс между риском реорганизации
// и временем ожидания покупателя.
func defaultNetworks() map[int64]model.Network {
	return map[int64]model.Network{
		1: {
			ChainID:          1,
			Name:             "Ethereum Mainnet",
			RPCURL:           "https://eth-mainnet.g.alchemy.com/v2/demo",
			USDTAddress:      "0xdac17f958d2ee523a2206206994597c13d831ec7",
			ExplorerURL:      "https://etherscan.io",
			MinConfirmations: 12,
		},
		56: {
			ChainID:          56,
			Name:             "BNB Smart Chain",
			RPCURL:           "https://bsc-dataseed.binance.org",
			USDTAddress:      "0x55d398326f99059ff775485246999027b3197955",
			ExplorerURL:      "https://bscscan.com",
			MinConfirmations: 15,
		},
		137: {
			ChainID:          137,
			Name:             "Polygon",
			RPCURL:           "https://polygon-rpc.com",
			USDTAddress:      "0xc2132d05d31c914a87c6611c10748aeb04b58e8f",
			ExplorerURL:      "https://polygonscan.com",
			MinConfirmations: 30,
		},
		97: {
			ChainID:          97,
			Name:             "BSC Testnet",
			RPCURL:           "https://data-seed-prebsc-1-s1.binance.org:8545",
			USDTAddress:      "0x337610d27c682e347c9cd60bd4b3b107c9d34ddd",
			ExplorerURL:      "https://testnet.bscscan.com",
			MinConfirmations: 3,
			Testnet:          true,
		},
		80002: {
			ChainID:          80002,
			Name:             "Polygon Amoy Testnet",
			RPCURL:           "https://rpc-amoy.polygon.technology",
			USDTAddress:      "0x3813e82e6f7098b9583fc0f33a962d02018b6803",
			ExplorerURL:      "https://amoy.polygonscan.com",
			MinConfirmations: 3,
			Testnet:          true,
		},
	}
}
