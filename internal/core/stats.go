package core

import (
	"fmt"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// CounterSet is one additive bundle of event counters.
type CounterSet struct {
	TotalEvents int64            `json:"total_events"`
	ByAction    map[string]int64 `json:"by_action"`
	ByResource  map[string]int64 `json:"by_resource"`
	ByUser      map[string]int64 `json:"by_user"`
}

func newCounterSet() *CounterSet {
	return &CounterSet{
		ByAction:   make(map[string]int64),
		ByResource: make(map[string]int64),
		ByUser:     make(map[string]int64),
	}
}

func (c *CounterSet) record(e *AuditEvent) {
	c.TotalEvents++
	c.ByAction[e.Action]++
	if e.Resource != "" {
		c.ByResource[e.Resource]++
	}
	if e.UserID != "" {
		c.ByUser[e.UserID]++
	}
}

// DailyStatistics holds the counters for one calendar day: a global counter
// set, the per-tenant event totals, and a full counter set per tenant so
// tenant-scoped queries get real breakdowns.
type DailyStatistics struct {
	Date     string                 `json:"date"`
	Global   *CounterSet            `json:"global"`
	ByTenant map[string]int64       `json:"by_tenant,omitempty"`
	Tenants  map[string]*CounterSet `json:"tenants,omitempty"`
}

// Stats is an aggregation over a relative time window.
type Stats struct {
	Window      string           `json:"window"`
	TenantID    string           `json:"tenant_id,omitempty"`
	TotalEvents int64            `json:"total_events"`
	ByAction    map[string]int64 `json:"by_action"`
	ByResource  map[string]int64 `json:"by_resource"`
	ByUser      map[string]int64 `json:"by_user"`
	ByTenant    map[string]int64 `json:"by_tenant"`
	Days        int              `json:"days_aggregated"`
}

// StatsAggregator maintains per-calendar-day counters. Entries are created
// lazily on the first event of a new day and pruned after the retention
// period.
type StatsAggregator struct {
	mu            sync.Mutex
	days          map[string]*DailyStatistics
	retentionDays int
	now           func() time.Time
}

// NewStatsAggregator creates an aggregator retaining retentionDays of daily
// buckets (<=0 means 365).
func NewStatsAggregator(retentionDays int) *StatsAggregator {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	return &StatsAggregator{
		days:          make(map[string]*DailyStatistics),
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Record increments today's counters for the event. O(1), additive.
func (s *StatsAggregator) Record(event *AuditEvent) {
	date := s.now().UTC().Format(dateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	day, ok := s.days[date]
	if !ok {
		day = &DailyStatistics{
			Date:     date,
			Global:   newCounterSet(),
			ByTenant: make(map[string]int64),
			Tenants:  make(map[string]*CounterSet),
		}
		s.days[date] = day
	}

	day.Global.record(event)
	if event.TenantID != "" {
		day.ByTenant[event.TenantID]++
		tset, ok := day.Tenants[event.TenantID]
		if !ok {
			tset = newCounterSet()
			day.Tenants[event.TenantID] = tset
		}
		tset.record(event)
	}
}

// windowDays maps a window name to its trailing length in days; 0 means all.
func windowDays(window string) (int, error) {
	switch window {
	case "1d":
		return 1, nil
	case "7d":
		return 7, nil
	case "30d":
		return 30, nil
	case "90d":
		return 90, nil
	case "all", "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown statistics window %q", window)
	}
}

// Query sums all daily buckets whose date falls within the window relative to
// now. With a tenant id, only that tenant's counters are aggregated.
func (s *StatsAggregator) Query(tenantID, window string) (Stats, error) {
	days, err := windowDays(window)
	if err != nil {
		return Stats{}, err
	}
	if window == "" {
		window = "all"
	}

	var cutoff time.Time
	if days > 0 {
		cutoff = s.now().UTC().AddDate(0, 0, -days)
	}

	out := Stats{
		Window:     window,
		TenantID:   tenantID,
		ByAction:   make(map[string]int64),
		ByResource: make(map[string]int64),
		ByUser:     make(map[string]int64),
		ByTenant:   make(map[string]int64),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for date, day := range s.days {
		if days > 0 {
			d, err := time.ParseInLocation(dateLayout, date, time.UTC)
			if err != nil || d.Before(cutoff) {
				continue
			}
		}

		set := day.Global
		if tenantID != "" {
			set = day.Tenants[tenantID]
			if set == nil {
				continue
			}
			out.ByTenant[tenantID] += day.ByTenant[tenantID]
		} else {
			for t, n := range day.ByTenant {
				out.ByTenant[t] += n
			}
		}

		out.TotalEvents += set.TotalEvents
		for k, v := range set.ByAction {
			out.ByAction[k] += v
		}
		for k, v := range set.ByResource {
			out.ByResource[k] += v
		}
		for k, v := range set.ByUser {
			out.ByUser[k] += v
		}
		out.Days++
	}

	return out, nil
}

// Prune drops daily buckets older than the retention period and returns how
// many were removed.
func (s *StatsAggregator) Prune() int {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for date := range s.days {
		d, err := time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil || d.Before(cutoff) {
			delete(s.days, date)
			removed++
		}
	}
	return removed
}
