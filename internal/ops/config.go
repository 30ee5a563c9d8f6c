package ops

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gopkg.in/yaml.v3"

	"venuelink/internal/model"
	"venuelink/internal/model/enum"
	"venuelink/internal/risk"
	"venuelink/internal/venue"
	"venuelink/internal/venue/bitmex"
	"venuelink/internal/venue/dydx"
	"venuelink/pkg/backoff"
	"venuelink/pkg/exception"
	"venuelink/pkg/rest"
	"venuelink/pkg/websocket"
)

const (
	EnvBitMEXKey    = "BITMEX_API_KEY"
	EnvBitMEXSecret = "BITMEX_API_SECRET"
	EnvDYDXMnemonic = "DYDX_MNEMONIC"
	EnvJournalDSN   = "JOURNAL_DSN"

	_defaultShutdownTimeout = 2 * time.Second
	_defaultWorkers         = 4
	_defaultQueueSize       = 1024
	_defaultBusQueueSize    = 8192
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`
	Profiling       ProfilingConfig    `yaml:"profiling"`
	Bus             BusConfig          `yaml:"bus"`
	Order           OrderConfig        `yaml:"order"`
	Risk            risk.Config        `yaml:"risk"`
	WebSocket       websocket.Tuning   `yaml:"websocket"`
	BitMEX          *BitMEXFileConfig  `yaml:"bitmex"`
	DYDX            *DYDXFileConfig    `yaml:"dydx"`
	Journal         *JournalFileConfig `yaml:"journal"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled         bool              `yaml:"enabled"`
	ApplicationName string            `yaml:"application_name"`
	ServerAddress   string            `yaml:"server_address"`
	Tags            map[string]string `yaml:"tags"`
}

// BusConfig sizes the message bus.
type BusConfig struct {
	Name string `yaml:"name"`
	// RequestTTL expires unanswered requests.
	RequestTTL time.Duration `yaml:"request_ttl"`
	// QueueSize bounds the inbound queue between venue feeds and the bus.
	QueueSize int `yaml:"queue_size"`
}

// OrderConfig sizes the execution usecases.
type OrderConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	SubmitRate     float64       `yaml:"submit_rate"`
	SubmitBurst    int           `yaml:"submit_burst"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// SubscriptionConfig lists the streams wanted for one symbol.
type SubscriptionConfig struct {
	Symbol   string   `yaml:"symbol"`
	Streams  []string `yaml:"streams"`
	BookType string   `yaml:"book_type"`
}

// BitMEXFileConfig describes the HMAC venue.
type BitMEXFileConfig struct {
	Testnet       bool                 `yaml:"testnet"`
	REST          rest.Config          `yaml:"rest"`
	WsURL         string               `yaml:"ws_url"`
	KeyEnv        string               `yaml:"key_env"`
	SecretEnv     string               `yaml:"secret_env"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// DYDXFileConfig describes the wallet venue.
type DYDXFileConfig struct {
	Testnet          bool                 `yaml:"testnet"`
	Indexer          rest.Config          `yaml:"indexer"`
	Node             rest.Config          `yaml:"node"`
	WsURL            string               `yaml:"ws_url"`
	ChainID          string               `yaml:"chain_id"`
	MnemonicEnv      string               `yaml:"mnemonic_env"`
	WalletIndex      uint32               `yaml:"wallet_index"`
	SubaccountNumber int                  `yaml:"subaccount_number"`
	GoodTil          time.Duration        `yaml:"good_til"`
	Subscriptions    []SubscriptionConfig `yaml:"subscriptions"`
}

// JournalFileConfig enables the order event journal.
type JournalFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSNEnv  string `yaml:"dsn_env"`
}

// Subscription is a resolved SubscriptionConfig.
type Subscription struct {
	InstrumentID model.InstrumentID
	Streams      []venue.Stream
	BookType     enum.BookType
}

// BitMEX is the resolved BitMEX section.
type BitMEX struct {
	REST          rest.Config
	WsURL         string
	Credential    rest.Credential
	Subscriptions []Subscription
}

// DYDX is the resolved dYdX section.
type DYDX struct {
	Indexer          rest.Config
	Node             rest.Config
	WsURL            string
	ChainID          string
	Mnemonic         rest.Secret
	WalletIndex      uint32
	SubaccountNumber int
	GoodTil          time.Duration
	Subscriptions    []Subscription
}

// Journal is the resolved journal section.
type Journal struct {
	DSN rest.Secret
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	ShutdownTimeout time.Duration
	Profiling       ProfilingConfig
	Bus             BusConfig
	Order           OrderConfig
	Risk            risk.Config
	WebSocket       websocket.Tuning
	BitMEX          *BitMEX
	DYDX            *DYDX
	Journal         *Journal
}

// Load reads a YAML config file. Secrets come from the environment, which
// is seeded from a .env file in the working directory when present.
func Load(path string) (Loaded, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logs.Infof("warn: load .env, err: %+v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(exception.ErrConfiguration, err.Error()).With("path", path)
	}
	return Parse(data, os.Getenv)
}

// Parse resolves a YAML document, reading secrets through getenv.
func Parse(data []byte, getenv func(string) string) (Loaded, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(exception.ErrConfiguration, "parse yaml").With("error", err.Error())
	}
	return resolve(cfg, getenv)
}

func resolve(cfg FileConfig, getenv func(string) string) (Loaded, error) {
	if cfg.BitMEX == nil && cfg.DYDX == nil {
		return Loaded{}, errors.Wrap(exception.ErrConfiguration, "no venue configured")
	}
	if err := validateTuning(cfg.WebSocket); err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		ShutdownTimeout: cfg.ShutdownTimeout,
		Profiling:       cfg.Profiling,
		Bus:             cfg.Bus,
		Order:           resolveOrder(cfg.Order),
		Risk:            cfg.Risk,
		WebSocket:       cfg.WebSocket,
	}
	if _, err := risk.NewEngine(cfg.Risk, nil); err != nil {
		return Loaded{}, err
	}
	if loaded.ShutdownTimeout <= 0 {
		loaded.ShutdownTimeout = _defaultShutdownTimeout
	}
	if loaded.Bus.Name == "" {
		loaded.Bus.Name = "venuelink"
	}
	if loaded.Bus.RequestTTL <= 0 {
		loaded.Bus.RequestTTL = 30 * time.Second
	}
	if loaded.Bus.QueueSize <= 0 {
		loaded.Bus.QueueSize = _defaultBusQueueSize
	}
	if loaded.Profiling.Enabled && loaded.Profiling.ServerAddress == "" {
		return Loaded{}, errors.Wrap(exception.ErrConfiguration, "profiling server address is empty")
	}
	if loaded.Profiling.ApplicationName == "" {
		loaded.Profiling.ApplicationName = "venuelink"
	}

	if cfg.BitMEX != nil {
		b, err := resolveBitMEX(*cfg.BitMEX, getenv)
		if err != nil {
			return Loaded{}, errors.Wrap(err, "bitmex")
		}
		loaded.BitMEX = &b
	}
	if cfg.DYDX != nil {
		d, err := resolveDYDX(*cfg.DYDX, getenv)
		if err != nil {
			return Loaded{}, errors.Wrap(err, "dydx")
		}
		loaded.DYDX = &d
	}
	if cfg.Journal != nil && cfg.Journal.Enabled {
		name := envName(cfg.Journal.DSNEnv, EnvJournalDSN)
		dsn := getenv(name)
		if dsn == "" {
			return Loaded{}, errors.Wrap(exception.ErrConfiguration, "journal enabled without dsn").With("env", name)
		}
		loaded.Journal = &Journal{DSN: rest.Secret(dsn)}
	}
	return loaded, nil
}

func validateTuning(t websocket.Tuning) error {
	if t.Reconnect == (backoff.Config{}) {
		return nil
	}
	if err := t.Reconnect.Validate(); err != nil {
		return errors.Wrap(exception.ErrConfiguration, "websocket reconnect").With("error", err.Error())
	}
	return nil
}

func resolveOrder(cfg OrderConfig) OrderConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = _defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = _defaultQueueSize
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 60 * time.Second
	}
	return cfg
}

func envName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func resolveREST(cfg rest.Config, baseURL string) rest.Config {
	def := rest.DefaultConfig(baseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Backoff == (backoff.Config{}) {
		cfg.Backoff = def.Backoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	return cfg
}

func resolveBitMEX(cfg BitMEXFileConfig, getenv func(string) string) (BitMEX, error) {
	baseURL, wsURL := bitmex.BaseURL, bitmex.WsURL
	if cfg.Testnet {
		baseURL, wsURL = bitmex.TestnetBaseURL, bitmex.TestnetWsURL
	}
	if cfg.WsURL != "" {
		wsURL = cfg.WsURL
	}

	subs, err := resolveSubscriptions(cfg.Subscriptions, bitmex.Venue)
	if err != nil {
		return BitMEX{}, err
	}
	return BitMEX{
		REST:  resolveREST(cfg.REST, baseURL),
		WsURL: wsURL,
		Credential: rest.Credential{
			Key:    getenv(envName(cfg.KeyEnv, EnvBitMEXKey)),
			Secret: rest.Secret(getenv(envName(cfg.SecretEnv, EnvBitMEXSecret))),
		},
		Subscriptions: subs,
	}, nil
}

func resolveDYDX(cfg DYDXFileConfig, getenv func(string) string) (DYDX, error) {
	indexerURL, nodeURL, wsURL, chainID := dydx.IndexerURL, dydx.NodeURL, dydx.WsURL, dydx.ChainID
	if cfg.Testnet {
		indexerURL, nodeURL, wsURL, chainID = dydx.TestnetIndexerURL, dydx.TestnetNodeURL, dydx.TestnetWsURL, dydx.TestnetChainID
	}
	if cfg.WsURL != "" {
		wsURL = cfg.WsURL
	}
	if cfg.ChainID != "" {
		chainID = cfg.ChainID
	}
	if cfg.SubaccountNumber < 0 {
		return DYDX{}, errors.Wrap(exception.ErrConfiguration, "negative subaccount number").With("subaccount_number", cfg.SubaccountNumber)
	}

	subs, err := resolveSubscriptions(cfg.Subscriptions, dydx.Venue)
	if err != nil {
		return DYDX{}, err
	}
	return DYDX{
		Indexer:          resolveREST(cfg.Indexer, indexerURL),
		Node:             resolveREST(cfg.Node, nodeURL),
		WsURL:            wsURL,
		ChainID:          chainID,
		Mnemonic:         rest.Secret(strings.TrimSpace(getenv(envName(cfg.MnemonicEnv, EnvDYDXMnemonic)))),
		WalletIndex:      cfg.WalletIndex,
		SubaccountNumber: cfg.SubaccountNumber,
		GoodTil:          cfg.GoodTil,
		Subscriptions:    subs,
	}, nil
}

func resolveSubscriptions(cfgs []SubscriptionConfig, venueName string) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(cfgs))
	for _, c := range cfgs {
		if c.Symbol == "" {
			return nil, errors.Wrap(exception.ErrConfiguration, "subscription symbol is empty")
		}
		if len(c.Streams) == 0 {
			return nil, errors.Wrap(exception.ErrConfiguration, "subscription without streams").With("symbol", c.Symbol)
		}

		sub := Subscription{
			InstrumentID: model.NewInstrumentID(c.Symbol, venueName),
			BookType:     enum.BookTypeL2MBP,
		}
		if c.BookType != "" {
			bookType, ok := parseBookType(c.BookType)
			if !ok {
				return nil, errors.Wrap(exception.ErrConfiguration, "unknown book type").With("symbol", c.Symbol).With("book_type", c.BookType)
			}
			sub.BookType = bookType
		}
		for _, name := range c.Streams {
			stream, ok := venue.ParseStream(name)
			if !ok {
				return nil, errors.Wrap(exception.ErrConfiguration, "unknown stream").With("symbol", c.Symbol).With("stream", name)
			}
			sub.Streams = append(sub.Streams, stream)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func parseBookType(name string) (enum.BookType, bool) {
	for t := enum.BookTypeL1MBP; t.IsAvailable(); t++ {
		if strings.EqualFold(t.String(), name) {
			return t, true
		}
	}
	return 0, false
}
