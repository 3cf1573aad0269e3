// Package clock provides the seconds clock used to stamp membership changes.
package clock

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

// Clock returns the current time in whole seconds.
type Clock interface {
	Now() int64
}

// SystemClock uses the local wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// RedisClock reads the Redis server TIME so every controller stamps with one clock.
type RedisClock struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedisClock(client redis.UniversalClient) *RedisClock {
	return &RedisClock{
		client:  client,
		timeout: time.Second,
	}
}

func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.client.Time(ctx).Result()
	if err != nil {
		logger.Warnw("Redis TIME failed, falling back to local clock", "error", err.Error())
		return time.Now().Unix()
	}
	return res.Unix()
}

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	Seconds int64
}

func (f *Fixed) Now() int64 {
	return f.Seconds
}

// Advance moves the clock forward.
func (f *Fixed) Advance(d time.Duration) {
	f.Seconds += int64(d / time.Second)
}

// Next returns the stamp for a write that must follow prev: the clock value, or
// prev+1 when the clock has not moved past prev.
func Next(c Clock, prev int64) int64 {
	now := c.Now()
	if now <= prev {
		return prev + 1
	}
	return now
}
