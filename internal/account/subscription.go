// Package account holds the subscription and tool-access collaborators
// the orchestrator consults: a daily usage limiter and a per-tool
// access check. Both are JSON-file backed, matching the rest of the
// account bookkeeping this service sits next to.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	fileutil "mediaforge/internal/file"
)

// Plan names and their daily usage ceilings. -1 means unlimited.
var planLimits = map[string]int{
	"free":    5,
	"pro":     100,
	"premium": -1,
}

const defaultPlan = "free"

// ErrLimitReached is returned when the user is out of daily uses.
var ErrLimitReached = errors.New("daily usage limit reached")

type subscription struct {
	Plan      string `json:"plan"`
	UsedToday int    `json:"used_today"`
	LastReset string `json:"last_reset"` // date in 2006-01-02 form
}

// Subscriptions is the usage limiter. State lives in one JSON file
// written atomically on every change.
type Subscriptions struct {
	mu   sync.Mutex
	path string
	subs map[string]*subscription
	now  func() time.Time
}

func OpenSubscriptions(path string) (*Subscriptions, error) {
	s := &Subscriptions{
		path: path,
		subs: make(map[string]*subscription),
		now:  time.Now,
	}
	data, err := os.ReadFile(path) //nolint:gosec // config-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.subs); err != nil {
			return nil, fmt.Errorf("parse subscriptions: %w", err)
		}
	}
	return s, nil
}

// CheckLimit reports whether userID may start a billable operation.
func (s *Subscriptions) CheckLimit(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.get(userID)
	limit := planLimits[sub.Plan]
	if limit < 0 {
		return nil
	}
	if sub.UsedToday >= limit {
		return fmt.Errorf("%w: %d/%d on %s plan", ErrLimitReached, sub.UsedToday, limit, sub.Plan)
	}
	return nil
}

// RecordUse counts one completed billable operation.
func (s *Subscriptions) RecordUse(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.get(userID)
	sub.UsedToday++
	return s.persist()
}

// SetPlan assigns a plan, for administrative use.
func (s *Subscriptions) SetPlan(userID, plan string) error {
	if _, ok := planLimits[plan]; !ok {
		return fmt.Errorf("unknown plan %q", plan)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.get(userID)
	sub.Plan = plan
	return s.persist()
}

// Remaining returns how many uses are left today; -1 means unlimited.
func (s *Subscriptions) Remaining(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.get(userID)
	limit := planLimits[sub.Plan]
	if limit < 0 {
		return -1
	}
	left := limit - sub.UsedToday
	if left < 0 {
		left = 0
	}
	return left
}

// get returns the subscription for userID, creating the default free
// plan and rolling the daily counter over on a new day. Callers hold mu.
func (s *Subscriptions) get(userID string) *subscription {
	today := s.now().Format("2006-01-02")
	sub, ok := s.subs[userID]
	if !ok {
		sub = &subscription{Plan: defaultPlan, LastReset: today}
		s.subs[userID] = sub
	}
	if sub.LastReset != today {
		sub.UsedToday = 0
		sub.LastReset = today
	}
	if _, ok := planLimits[sub.Plan]; !ok {
		sub.Plan = defaultPlan
	}
	return sub
}

func (s *Subscriptions) persist() error {
	return fileutil.WriteJSONAtomic(s.path, s.subs)
}
