package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the service configuration, loaded from the environment.
type Config struct {
	AppPort string
	DBDSN   string

	RedisAddr string
	RedisPass string
	RedisDB   int

	// Chain config. Mnemonic is the custodial hot-wallet seed phrase and must
	// never be logged or returned to a caller.
	JettonMaster      string
	HotWalletAddress  string
	HotWalletMnemonic string

	ToncenterURL    string
	ToncenterAPIKey string
	TonapiURL       string
	TonapiAPIKey    string

	// MinWithdrawal is the platform minimum, in whole tokens.
	MinWithdrawal float64

	AdminBotToken string
	AdminChatID   int64

	IsProd bool
}

// LoadConfig reads configuration from environment variables, with .env support.
func LoadConfig() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	chatID, _ := strconv.ParseInt(os.Getenv("ADMIN_CHAT_ID"), 10, 64)

	minWithdrawal := 100.0
	if v := os.Getenv("MIN_WITHDRAWAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			minWithdrawal = f
		}
	}

	return &Config{
		AppPort:           getenv("APP_PORT", "8080"),
		DBDSN:             os.Getenv("DATABASE_DSN"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPass:         os.Getenv("REDIS_PASS"),
		RedisDB:           redisDB,
		JettonMaster:      os.Getenv("JETTON_MASTER_ADDRESS"),
		HotWalletAddress:  os.Getenv("HOT_WALLET_ADDRESS"),
		HotWalletMnemonic: os.Getenv("HOT_WALLET_MNEMONIC"),
		ToncenterURL:      getenv("TONCENTER_URL", "https://toncenter.com"),
		ToncenterAPIKey:   os.Getenv("TONCENTER_API_KEY"),
		TonapiURL:         getenv("TONAPI_URL", "https://tonapi.io"),
		TonapiAPIKey:      os.Getenv("TONAPI_API_KEY"),
		MinWithdrawal:     minWithdrawal,
		AdminBotToken:     os.Getenv("ADMIN_BOT_TOKEN"),
		AdminChatID:       chatID,
		IsProd:            os.Getenv("IS_PROD") == "true",
	}
}

// ChainConfigured reports whether the secrets required to move funds on-chain
// are all present. Withdrawals must be refused before any ledger write when
// this is false, otherwise a partially configured deployment would debit
// balances for transfers that can never complete.
func (c *Config) ChainConfigured() bool {
	return c.JettonMaster != "" && c.HotWalletAddress != "" && c.HotWalletMnemonic != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
