package config

const (
	defaultDownloadDir       = "~/.local/share/fetchledger/downloads"
	defaultStateDir          = "~/.local/share/fetchledger/state"
	defaultLogDir            = "~/.local/share/fetchledger/logs"
	defaultLedgerName        = "ledger.csv"
	defaultGoodMirrorsName   = "mirrors.txt"
	defaultQuarantineName    = "mirrors.quarantine.txt"
	defaultJournalName       = "journal.db"
	defaultFailureThreshold  = 3
	defaultStallTimeout      = 60
	defaultConnectTimeout    = 30
	defaultBufferSize        = 32 * 1024
	minBufferSize            = 4 * 1024
	defaultUserAgent         = "fetchledger/0.1"
	defaultPoolSize          = 4
	defaultShutdownTimeout   = 30
	defaultMonitorIntervalMS = 500
	defaultMaxPasses         = 3
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultNotifyTimeout     = 10

	// SourceKindManifest reads a YAML manifest of artifacts.
	SourceKindManifest = "manifest"
	// SourceKindSHA256Sums reads a SHA256SUMS-style checksum list.
	SourceKindSHA256Sums = "sha256sums"
)

// Default returns a Config populated with repository defaults. File paths under
// the state directory are derived during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
		},
		Mirrors: Mirrors{
			FailureThreshold: defaultFailureThreshold,
		},
		Transfer: Transfer{
			StallTimeout:   defaultStallTimeout,
			ConnectTimeout: defaultConnectTimeout,
			BufferSize:     defaultBufferSize,
			UserAgent:      defaultUserAgent,
		},
		Scheduler: Scheduler{
			PoolSize:          defaultPoolSize,
			ShutdownTimeout:   defaultShutdownTimeout,
			MonitorIntervalMS: defaultMonitorIntervalMS,
			MaxPasses:         defaultMaxPasses,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
	}
}
