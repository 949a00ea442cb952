package models

import (
	"time"

	"github.com/google/uuid"
)

// Lab represents a research lab that students can be assigned to.
type Lab struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Quota        int       `json:"quota"`
	LotteryQuota int       `json:"lottery_quota"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EffectiveQuota is the regular-round capacity. Archived labs accept no
// students regardless of their recorded quota.
func (l Lab) EffectiveQuota() int {
	if l.Archived {
		return 0
	}
	return l.Quota
}

// EffectiveLotteryQuota is the lottery-phase capacity, zero once archived.
func (l Lab) EffectiveLotteryQuota() int {
	if l.Archived {
		return 0
	}
	return l.LotteryQuota
}
