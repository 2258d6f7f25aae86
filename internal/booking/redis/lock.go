// Package redis holds short-lived slot claims that bridge the gap between
// the availability check and the reservation insert. A claim keeps two
// near-simultaneous checkouts for the same slot from both reaching the
// payment step; the partial unique index in the database remains the final
// arbiter if a claim expires mid-flight.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"studio-booking/internal/logger"
)

type SlotLock struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewSlotLock(client *redis.Client, ttl time.Duration, l *logger.Logger) *SlotLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SlotLock{Client: client, TTL: ttl, Logger: l}
}

func slotKey(date, startTime string) string {
	return fmt.Sprintf("slot_claim:%s:%s", date, startTime)
}

// CheckSlotAvailability reports whether the slot is currently unclaimed,
// without claiming it.
func (s *SlotLock) CheckSlotAvailability(ctx context.Context, date, startTime string) (bool, error) {
	_, err := s.Client.Get(ctx, slotKey(date, startTime)).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// ClaimSlot takes the slot for one checkout attempt. The value identifies
// the owning attempt so only the owner can release the claim.
func (s *SlotLock) ClaimSlot(ctx context.Context, date, startTime, claimID string) (bool, error) {
	ok, err := s.Client.SetNX(ctx, slotKey(date, startTime), claimID, s.TTL).Result()
	if err != nil {
		return false, err
	}
	if s.Logger != nil {
		if ok {
			s.Logger.Info("REDIS", fmt.Sprintf("claimed slot %s %s for %s", date, startTime, claimID))
		} else {
			s.Logger.Warn("REDIS", fmt.Sprintf("slot %s %s already claimed", date, startTime))
		}
	}
	return ok, nil
}

// ReleaseSlot drops the claim if this attempt still owns it. A claim held by
// another attempt, or already expired, is left alone.
func (s *SlotLock) ReleaseSlot(ctx context.Context, date, startTime, claimID string) error {
	key := slotKey(date, startTime)
	val, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == claimID {
		_, err = s.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
