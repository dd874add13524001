package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestConcurrencyScriptsCompile(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestConcurrencyCap_RejectsBadArguments(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	cases := []struct {
		name string
		c    ConcurrencyCap
	}{
		{"nil client", ConcurrencyCap{Key: "k", Limit: 1, TTL: time.Minute}},
		{"empty key", ConcurrencyCap{RDB: rdb, Limit: 1, TTL: time.Minute}},
		{"zero limit", ConcurrencyCap{RDB: rdb, Key: "k", TTL: time.Minute}},
		{"zero ttl", ConcurrencyCap{RDB: rdb, Key: "k", Limit: 1}},
	}
	for _, tc := range cases {
		ok, err := tc.c.Acquire(ctx)
		if err == nil || ok {
			t.Fatalf("%s: expected error, got ok=%v err=%v", tc.name, ok, err)
		}
	}

	if err := (ConcurrencyCap{}).Release(ctx); err == nil {
		t.Fatalf("expected error releasing without client")
	}
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
