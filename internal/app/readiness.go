// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPingResult is the minimal result shape of a redis client's Ping call.
type RedisPingResult interface {
	Err() error
}

// RedisClient is the minimal interface a redis client must satisfy for a
// readiness check: the asynq queue and the RPM quota gate both depend on
// Redis being reachable.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// BuildReadinessChecks returns a db check and a redis check: the gateway's
// only two external dependencies on the request path.
func BuildReadinessChecks(pool Pinger, redis RedisClient) (
	dbCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
) {
	dbCheck = func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck = func(ctx context.Context) error {
		if redis == nil {
			return fmt.Errorf("redis not configured")
		}
		return redis.Ping(ctx).Err()
	}
	return dbCheck, redisCheck
}
