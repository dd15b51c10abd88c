/*
Package settings controls reading configuration from environment and assigning defaults
*/
package settings

import (
	"fmt"
	"log" // cannot use zerolog as log options not initialised
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const envPrefix = "DD"

var Settings *DDSettings
var Dedup *DDDedup
var Store *DDStore

// Logger is the process wide logger, configured from DD_LOG_LEVEL and DD_LOG_PRETTY.
var Logger zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// HumanReadableBytes is a byte count that can be configured as "64Mi", "1GB" or a plain number.
type HumanReadableBytes uint64

func (b HumanReadableBytes) String() string {
	return humanize.IBytes(uint64(b))
}

// HumanToBytesFatal parses a human readable size and exits on failure, for use in defaults.
func HumanToBytesFatal(s string) HumanReadableBytes {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		log.Fatalf("bad byte size %s: %v", s, err)
	}
	return HumanReadableBytes(v)
}

// HumanReadableBytesHookFunc decodes strings like "10Ki" into HumanReadableBytes.
func HumanReadableBytesHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(HumanReadableBytes(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		v, err := humanize.ParseBytes(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid byte size %q: %w", data, err)
		}
		return HumanReadableBytes(v), nil
	}
}

type DDStoreFilesystem struct {
	Path string `koanf:"path"`
}

type DDStoreAzure struct {
	Endpoint       string `koanf:"endpoint"`
	StorageAccount string `koanf:"storage_account"`
	Container      string `koanf:"container"`
	AccessKey      string `koanf:"access_key"`
}

type DDStoreS3 struct {
	// S3 server address
	Endpoint string `koanf:"endpoint"`
	// Access key to auth against S3 bucket
	AccessKey string `koanf:"access_key"`
	// Secret key to auth against S3 bucket
	SecretKey string `koanf:"secret_key"`
	// Whether to utilise HTTPS for S3 transport
	Secure bool `koanf:"secure"`
	// S3 region or empty if unsupported by server
	Region string `koanf:"region"`
	// S3 bucket name to store to (will attempt to create if not exists)
	Bucket string `koanf:"bucket"`
}

type DDStoreRedis struct {
	Endpoint string `koanf:"endpoint"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// first of two databases used, generations in DB and checkpoints in DB+1
	DB                       int `koanf:"db"`
	MaxRetries               int `koanf:"max_retries"`
	ConnectionTimeoutSeconds int `koanf:"connection_timeout_seconds"`
}

type DDStoreSQLite struct {
	Path string `koanf:"path"`
}

type DDStoreCache struct {
	/*
		Bucket generations are immutable once written so are safe to cache between loads.
		bigcache may use up to 1.5 times this size.
	*/
	// In memory generation cache size, 0 disables the cache
	SizeBytes HumanReadableBytes `koanf:"size_bytes"`
	// Number of cache shards, concurrency vs max object size
	Shards int64 `koanf:"shards"`
	// Max TimeToLive for cached data, in seconds.
	TTLSeconds int64 `koanf:"ttl_seconds"`
}

type DDStore struct {
	// valid backends: memory, filesystem, s3, azure, redis, sqlite, noop
	Backend string `koanf:"backend"`
	// prefix for every object written by this deployment
	Root string `koanf:"root"`
	// namespace owned by this worker, must be stable across restarts to recover checkpoints
	Namespace string `koanf:"namespace"`
	// zstd compress bucket generations
	Compress   bool              `koanf:"compress"`
	Filesystem DDStoreFilesystem `koanf:"filesystem"`
	S3         DDStoreS3         `koanf:"s3"`
	Azure      DDStoreAzure      `koanf:"azure"`
	Redis      DDStoreRedis      `koanf:"redis"`
	SQLite     DDStoreSQLite     `koanf:"sqlite"`
	Cache      DDStoreCache      `koanf:"cache"`
}

type DDDedup struct {
	// none, ordered, tupletime, systemtime, categorical
	ExpiryType string `koanf:"expiry_type"`
	// gjson path of the dedup key in each input line
	KeyPath string `koanf:"key_path"`
	// gjson path of the expiry coordinate (sequence, time or category)
	ExpiryPath string `koanf:"expiry_path"`
	// layout for string times when expiry_type is tupletime
	TimeFormat string `koanf:"time_format"`
	// number of buckets, 0 picks 1024 for expiry_type none and derives it from expiry_period and
	// bucket_span for expiring types
	NumBuckets   int   `koanf:"num_buckets"`
	BucketSpan   int64 `koanf:"bucket_span"`
	ExpiryPeriod int64 `koanf:"expiry_period"`
	// largest single advance of the expiry horizon caused by one event
	MaxExpiryJump int64 `koanf:"max_expiry_jump"`
	// resident bucket ceiling before eviction starts
	BucketsInMemory int `koanf:"buckets_in_memory"`
	// buckets younger than this are never evicted
	EvictionGrace time.Duration `koanf:"eviction_grace"`
	// emit results in input order
	OrderedOutput bool `koanf:"ordered_output"`
	// store only the keys of events, not the events themselves
	KeysOnly bool `koanf:"keys_only"`
	// write the whole bucket each commit and remove older generations
	PersistEntireBucket bool `koanf:"persist_entire_bucket"`
	// concurrent bucket loads
	LoadWorkers int `koanf:"load_workers"`
	// concurrent generation fetches while loading one bucket
	GenerationFetchLimit int `koanf:"generation_fetch_limit"`
	// consecutive failed commits tolerated before giving up
	MaxFlushRetries int `koanf:"max_flush_retries"`
	// input lines per batch for the run command
	BatchSize int `koanf:"batch_size"`
	// expected keys per bucket for the bloom key filter, 0 disables it
	KeyFilterExpected int     `koanf:"key_filter_expected"`
	KeyFilterFPP      float64 `koanf:"key_filter_fpp"`
	// bytes for the in process duplicate prefilter, 0 disables it
	PrefilterBytes HumanReadableBytes `koanf:"prefilter_bytes"`
	PartitionCount int                `koanf:"partition_count"`
	PartitionIndex int                `koanf:"partition_index"`
}

type DDSettings struct {
	// status and metrics server will listen for connections from this address
	ListenAddr string `koanf:"listen_addr"`
	// for custom log files, the folder to place these file in
	LogPath   string `koanf:"log_path"`
	LogLevel  string `koanf:"log_level"`
	LogPretty bool   `koanf:"log_pretty"`
	// write expired and error events to rotating files under log_path
	AuditDecisions bool    `koanf:"audit_decisions"`
	EnablePprof    bool    `koanf:"enable_pprof"`
	Dedup          DDDedup `koanf:"dedup"`
	Store          DDStore `koanf:"store"`
}

var defaults DDSettings = DDSettings{
	ListenAddr:     ":8112",
	LogPath:        "/tmp/logs/dedup/",
	LogLevel:       "info",
	LogPretty:      false,
	AuditDecisions: false,
	EnablePprof:    false,
	Dedup: DDDedup{
		ExpiryType:           "none",
		KeyPath:              "id",
		ExpiryPath:           "time",
		TimeFormat:           "2006-01-02T15:04:05Z07:00",
		NumBuckets:           0,
		BucketSpan:           60,
		ExpiryPeriod:         3600,
		MaxExpiryJump:        10800,
		BucketsInMemory:      128,
		EvictionGrace:        time.Minute,
		OrderedOutput:        true,
		KeysOnly:             true,
		PersistEntireBucket:  false,
		LoadWorkers:          4,
		GenerationFetchLimit: 16,
		MaxFlushRetries:      5,
		BatchSize:            1000,
		KeyFilterExpected:    0,
		KeyFilterFPP:         0.01,
		PrefilterBytes:       0, // prefilter is off by default
		PartitionCount:       1,
		PartitionIndex:       0,
	},
	Store: DDStore{
		Backend:   "filesystem",
		Root:      "dedup",
		Namespace: "p0",
		Compress:  false,
		Filesystem: DDStoreFilesystem{
			Path: "/tmp/dedup-store",
		},
		S3: DDStoreS3{
			Bucket: "azul-dedup",
		},
		Azure: DDStoreAzure{
			Container: "azul-dedup",
		},
		Redis: DDStoreRedis{
			DB:                       0,
			MaxRetries:               3,
			ConnectionTimeoutSeconds: 5,
		},
		SQLite: DDStoreSQLite{
			Path: "/tmp/dedup-store.db",
		},
		Cache: DDStoreCache{
			SizeBytes:  0,
			Shards:     32,
			TTLSeconds: 900,
		},
	},
}

// envKey maps DD__DEDUP__NUM_BUCKETS and DD.DEDUP.NUM_BUCKETS to dedup.num_buckets
func envKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ReplaceAll(s, "__", ".")
	s = strings.TrimLeft(s, "._")
	return strings.ToLower(s)
}

// ParseSettings layers environment overrides with the given prefix over defaults.
func ParseSettings[T any](defaults T, prefix string, hooks []mapstructure.DecodeHookFunc) (*T, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.Provider(prefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	out := new(T)
	allHooks := append([]mapstructure.DecodeHookFunc{mapstructure.StringToTimeDurationHookFunc()}, hooks...)
	err := k.UnmarshalWithConf("", out, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.ComposeDecodeHookFunc(allHooks...),
			Result:           out,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func setupLoggers(settings *DDSettings) {
	level, err := zerolog.ParseLevel(strings.ToLower(settings.LogLevel))
	if err != nil || settings.LogLevel == "" {
		log.Printf("unknown log level '%s', using info", settings.LogLevel)
		level = zerolog.InfoLevel
	}
	if settings.LogPretty {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	if settings.AuditDecisions {
		createFileLoggers(settings.LogPath)
	}
}

func ResetSettings() {
	parsed, err := ParseSettings(defaults, envPrefix, []mapstructure.DecodeHookFunc{HumanReadableBytesHookFunc()})
	if err != nil {
		log.Fatalf("could not read settings: %v", err)
	}
	Settings = parsed
	setupLoggers(Settings)
	Dedup = &Settings.Dedup
	Store = &Settings.Store
}

func init() {
	ResetSettings()
}
