package endpoints

import (
	"net/http"
	"sync"
	"time"
)

// recentAuctionLimit is how many auctions the dashboard keeps
const recentAuctionLimit = 100

// AuctionLog is one auction as shown on the dashboard
type AuctionLog struct {
	Timestamp time.Time `json:"timestamp"`
	AuctionID string    `json:"auction_id,omitempty"`
	SlotType  string    `json:"slot_type"`
	Ads       int       `json:"ads"`
	Winners   []string  `json:"winners"`
	Excluded  int       `json:"excluded"`
	Duration  int64     `json:"duration_us"`
	Filled    bool      `json:"filled"`
	TimedOut  bool      `json:"timed_out,omitempty"`
}

// Dashboard keeps live auction totals and the most recent auctions in memory
type Dashboard struct {
	mu              sync.RWMutex
	totalAuctions   int64
	filledAuctions  int64
	timedOut        int64
	slotAuctions    map[string]int64
	adWins          map[string]int64
	averageDuration float64
	recent          []AuctionLog
	startTime       time.Time
	lastUpdate      time.Time
}

// NewDashboard creates an empty dashboard
func NewDashboard() *Dashboard {
	now := time.Now()
	return &Dashboard{
		slotAuctions: make(map[string]int64),
		adWins:       make(map[string]int64),
		recent:       make([]AuctionLog, 0, recentAuctionLimit),
		startTime:    now,
		lastUpdate:   now,
	}
}

// LogAuction records one auction
func (d *Dashboard) LogAuction(entry AuctionLog) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	d.totalAuctions++
	if entry.Filled {
		d.filledAuctions++
	}
	if entry.TimedOut {
		d.timedOut++
	}
	d.slotAuctions[entry.SlotType]++
	for _, adID := range entry.Winners {
		d.adWins[adID]++
	}

	// rolling average in microseconds
	total := d.averageDuration * float64(d.totalAuctions-1)
	d.averageDuration = (total + float64(entry.Duration)) / float64(d.totalAuctions)

	d.recent = append([]AuctionLog{entry}, d.recent...)
	if len(d.recent) > recentAuctionLimit {
		d.recent = d.recent[:recentAuctionLimit]
	}
	d.lastUpdate = time.Now()
}

// DashboardSnapshot is the JSON view of the dashboard
type DashboardSnapshot struct {
	TotalAuctions     int64            `json:"total_auctions"`
	FilledAuctions    int64            `json:"filled_auctions"`
	TimedOutAuctions  int64            `json:"timed_out_auctions"`
	FillRate          float64          `json:"fill_rate"`
	AverageDurationUS float64          `json:"average_duration_us"`
	AuctionsBySlot    map[string]int64 `json:"auctions_by_slot"`
	WinsByAd          map[string]int64 `json:"wins_by_ad"`
	RecentAuctions    []AuctionLog     `json:"recent_auctions"`
	Uptime            string           `json:"uptime"`
	LastUpdate        time.Time        `json:"last_update"`
}

// Snapshot returns a copy of the current dashboard state. limit bounds the
// number of recent auctions returned.
func (d *Dashboard) Snapshot(limit int) DashboardSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.recent) {
		limit = len(d.recent)
	}

	s := DashboardSnapshot{
		TotalAuctions:     d.totalAuctions,
		FilledAuctions:    d.filledAuctions,
		TimedOutAuctions:  d.timedOut,
		AverageDurationUS: d.averageDuration,
		AuctionsBySlot:    make(map[string]int64, len(d.slotAuctions)),
		WinsByAd:          make(map[string]int64, len(d.adWins)),
		RecentAuctions:    make([]AuctionLog, limit),
		Uptime:            time.Since(d.startTime).Round(time.Second).String(),
		LastUpdate:        d.lastUpdate,
	}
	copy(s.RecentAuctions, d.recent[:limit])
	if d.totalAuctions > 0 {
		s.FillRate = float64(d.filledAuctions) / float64(d.totalAuctions) * 100
	}
	for k, v := range d.slotAuctions {
		s.AuctionsBySlot[k] = v
	}
	for k, v := range d.adWins {
		s.WinsByAd[k] = v
	}
	return s
}

// ServeHTTP handles GET /admin/dashboard
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Snapshot(20))
}
