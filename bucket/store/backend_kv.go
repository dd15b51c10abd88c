package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/kvprovider"
	"github.com/redis/go-redis/v9"
)

// stored values carry a marker byte so that an empty blob is distinguishable from a missing key
const kvValueMarker byte = 'v'

/* Store blobs in a key-value provider, checkpoints are kept apart from generations. */
type KVBackend struct {
	kv   *kvprovider.KVMulti
	name string
}

func NewKVBackend(kv *kvprovider.KVMulti, name string) *KVBackend {
	return &KVBackend{kv: kv, name: name}
}

func (s *KVBackend) Name() string { return s.name }

func (s *KVBackend) provider(name string) kvprovider.KVInterface {
	if strings.Contains(name, "/meta/") || strings.HasPrefix(name, "meta/") {
		return s.kv.Checkpoints
	}
	return s.kv.Generations
}

func (s *KVBackend) Put(ctx context.Context, name string, data []byte) error {
	value := make([]byte, 0, len(data)+1)
	value = append(value, kvValueMarker)
	value = append(value, data...)
	err := s.provider(name).Set(ctx, name, value, 0)
	if err != nil {
		return fmt.Errorf("%w", &WriteError{msg: fmt.Sprintf("%v", err)})
	}
	return nil
}

func (s *KVBackend) Get(ctx context.Context, name string) ([]byte, error) {
	value, err := s.provider(name).GetBytes(ctx, name)
	if errors.Is(err, redis.Nil) || (err == nil && len(value) == 0) {
		return nil, fmt.Errorf("%w", &NotFoundError{})
	}
	if err != nil {
		return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	if value[0] != kvValueMarker {
		return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("unexpected value for %s", name)})
	}
	return value[1:], nil
}

func (s *KVBackend) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Get(ctx, name)
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *KVBackend) List(ctx context.Context, prefix string) ([]string, error) {
	ret := []string{}
	for _, kv := range []kvprovider.KVInterface{s.kv.Generations, s.kv.Checkpoints} {
		keys, err := kvprovider.ScanAll(ctx, kv, prefix+"*")
		if err != nil {
			return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
		}
		ret = append(ret, keys...)
	}
	return ret, nil
}

func (s *KVBackend) Delete(ctx context.Context, name string) error {
	_, err := s.provider(name).Del(ctx, name)
	if err != nil {
		return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	return nil
}

// Close releases redis connections, in memory providers have nothing to release.
func (s *KVBackend) Close() error {
	var errs []error
	for _, kv := range []kvprovider.KVInterface{s.kv.Generations, s.kv.Checkpoints} {
		if c, ok := kv.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
