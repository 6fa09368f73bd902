package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/zigzag/pkg/crypto"
)

// Domain is the typed-data signing domain orders and time updates bind to
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func (d Domain) EIP712() crypto.EIP712Domain {
	return crypto.EIP712Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           new(big.Int).Set(d.ChainID),
		VerifyingContract: d.VerifyingContract,
	}
}

type Settlement struct {
	// EngineAddress is the spender orders' owners approve on each token
	EngineAddress common.Address
	// AcceptRawOrders enables the keccak-over-fields order scheme
	AcceptRawOrders bool
}

type Oracle struct {
	// Writer is the only address allowed to publish time. Empty means the
	// address of WriterKey.
	Writer common.Address
	// WriterKey, when set, makes this node publish time updates itself
	WriterKey    string
	FeedInterval time.Duration
}

type Node struct {
	// MinBlockTime is the pause between produced blocks
	MinBlockTime  time.Duration
	MaxBlockBytes int64
	DBPath        string // empty runs on an in-memory store
	GenesisFile   string
	TxLogFile     string
	APIAddr       string
	LogFile       string
	LogLevel      string
}

type Config struct {
	Domain     Domain
	Settlement Settlement
	Oracle     Oracle
	Node       Node
}

func Default() Config {
	d := crypto.DefaultDomain()
	return Config{
		Domain: Domain{
			Name:              d.Name,
			Version:           d.Version,
			ChainID:           d.ChainID,
			VerifyingContract: d.VerifyingContract,
		},
		Settlement: Settlement{
			EngineAddress: common.HexToAddress("0x0000000000000000000000000000000000002a2a"),
		},
		Oracle: Oracle{
			FeedInterval: time.Second,
		},
		Node: Node{
			MinBlockTime:  200 * time.Millisecond,
			MaxBlockBytes: 1 << 20,
			DBPath:        "data/state",
			TxLogFile:     "data/transactions.log",
			APIAddr:       ":8080",
			LogFile:       "data/node.log",
			LogLevel:      "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Domain.Name = getEnv("DOMAIN_NAME", cfg.Domain.Name)
	cfg.Domain.Version = getEnv("DOMAIN_VERSION", cfg.Domain.Version)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok || id.Sign() < 0 {
			return cfg, fmt.Errorf("CHAIN_ID: invalid value %q", v)
		}
		cfg.Domain.ChainID = id
	}
	if err := envAddress("VERIFYING_CONTRACT", &cfg.Domain.VerifyingContract); err != nil {
		return cfg, err
	}

	if err := envAddress("ENGINE_ADDRESS", &cfg.Settlement.EngineAddress); err != nil {
		return cfg, err
	}
	if err := envBool("ACCEPT_RAW_ORDERS", &cfg.Settlement.AcceptRawOrders); err != nil {
		return cfg, err
	}

	if err := envAddress("ORACLE_WRITER", &cfg.Oracle.Writer); err != nil {
		return cfg, err
	}
	cfg.Oracle.WriterKey = os.Getenv("ORACLE_WRITER_KEY")
	if err := envMillis("ORACLE_FEED_INTERVAL_MS", &cfg.Oracle.FeedInterval); err != nil {
		return cfg, err
	}

	if err := envMillis("NODE_MIN_BLOCK_TIME_MS", &cfg.Node.MinBlockTime); err != nil {
		return cfg, err
	}
	if v := os.Getenv("MAX_BLOCK_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("MAX_BLOCK_BYTES: %w", err)
		}
		cfg.Node.MaxBlockBytes = n
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.Node.DBPath = v
	}
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	cfg.Node.TxLogFile = getEnv("TX_LOG_FILE", cfg.Node.TxLogFile)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	return cfg, nil
}

// OracleWriter resolves the authorized writer: ORACLE_WRITER if set,
// otherwise the address of ORACLE_WRITER_KEY.
func (c Config) OracleWriter() (common.Address, *crypto.Signer, error) {
	var signer *crypto.Signer
	if c.Oracle.WriterKey != "" {
		s, err := crypto.FromPrivateKeyHex(c.Oracle.WriterKey)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("ORACLE_WRITER_KEY: %w", err)
		}
		signer = s
	}
	switch {
	case c.Oracle.Writer != (common.Address{}):
		if signer != nil && signer.Address() != c.Oracle.Writer {
			return common.Address{}, nil, fmt.Errorf("ORACLE_WRITER_KEY does not match ORACLE_WRITER %s", c.Oracle.Writer.Hex())
		}
		return c.Oracle.Writer, signer, nil
	case signer != nil:
		return signer.Address(), signer, nil
	default:
		return common.Address{}, nil, fmt.Errorf("one of ORACLE_WRITER or ORACLE_WRITER_KEY is required")
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envAddress(key string, dst *common.Address) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if !common.IsHexAddress(v) {
		return fmt.Errorf("%s: invalid address %q", key, v)
	}
	*dst = common.HexToAddress(v)
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envMillis(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return fmt.Errorf("%s: invalid milliseconds %q", key, v)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
