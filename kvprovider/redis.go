package kvprovider

import (
	"context"
	"errors"
	"time"

	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"

	"github.com/redis/go-redis/v9"
)

/*Initialise all redis providers.*/
func NewRedisProviders(conf st.DDStoreRedis) (*KVMulti, error) {
	var err error
	ret := KVMulti{}
	// be very careful about changing the db number
	ret.Generations, err = newRedisProvider(conf, conf.DB)
	if err != nil {
		return nil, err
	}
	// be very careful about changing the db number
	ret.Checkpoints, err = newRedisProvider(conf, conf.DB+1)
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

// try to impose some sanity into redis usage
// Must not use one redis deployment with multiple dedup deployments sharing a root

type RedisProvider struct {
	Redis      *redis.Client
	maxRetries int
	backoff    time.Duration
}

func newRedisProvider(conf st.DDStoreRedis, dbnum int) (*RedisProvider, error) {
	if len(conf.Endpoint) == 0 {
		return nil, errors.New("no endpoint for redis")
	}
	timeout := time.Second * time.Duration(conf.ConnectionTimeoutSeconds)
	rdb := redis.NewClient(&redis.Options{
		Addr:         conf.Endpoint,
		Username:     conf.Username,
		Password:     conf.Password,
		MaxRetries:   conf.MaxRetries,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		DB:           dbnum,
	})
	ret := RedisProvider{
		Redis:      rdb,
		maxRetries: max(conf.MaxRetries, 1),
		backoff:    timeout,
	}
	return &ret, nil
}

// Close releases the underlying client connections.
func (prov *RedisProvider) Close() error {
	return prov.Redis.Close()
}

// retry repeats a call until it succeeds or reports a missing key, sleeping between attempts.
func retry[T any](prov *RedisProvider, call func() (T, error)) (T, error) {
	var val T
	var err error
	for attempt := 1; ; attempt++ {
		val, err = call()
		// a missing key is an answer, not a failure
		if err == nil || errors.Is(err, redis.Nil) || attempt >= prov.maxRetries {
			return val, err
		}
		time.Sleep(prov.backoff)
	}
}

type scanPage struct {
	keys []string
	next uint64
}

// GetDBSize is 0 when redis cannot be reached.
func (prov *RedisProvider) GetDBSize(ctx context.Context) int64 {
	val, _ := retry(prov, func() (int64, error) { return prov.Redis.DBSize(ctx).Result() })
	return val
}

func (prov *RedisProvider) GetBytes(ctx context.Context, key string) ([]byte, error) {
	return retry(prov, func() ([]byte, error) { return prov.Redis.Get(ctx, key).Bytes() })
}

func (prov *RedisProvider) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	_, err := retry(prov, func() (struct{}, error) { return struct{}{}, prov.Redis.Set(ctx, key, value, expiration).Err() })
	return err
}

func (prov *RedisProvider) Del(ctx context.Context, keys ...string) (int64, error) {
	return retry(prov, func() (int64, error) { return prov.Redis.Del(ctx, keys...).Result() })
}

func (prov *RedisProvider) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	page, err := retry(prov, func() (scanPage, error) {
		keys, next, err := prov.Redis.Scan(ctx, cursor, match, count).Result()
		return scanPage{keys: keys, next: next}, err
	})
	return page.keys, page.next, err
}
