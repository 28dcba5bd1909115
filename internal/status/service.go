package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tradebridge/internal/model"
)

// RecentCapacity is the number of entries kept per recent log.
const RecentCapacity = 10

// DefaultSubscriberBuffer is used when Options leaves SubscriberBuffer zero.
const DefaultSubscriberBuffer = 64

// EventKind identifies what changed.
type EventKind string

const (
	EventChannelStatus EventKind = "channel_status"
	EventMarketData    EventKind = "market_data"
	EventStatusReport  EventKind = "status_report"
)

// Event is published to subscribers on every change.
type Event struct {
	Kind         EventKind           `json:"kind"`
	Time         time.Time           `json:"time"`
	Channel      model.Channel       `json:"channel,omitempty"`
	Status       string              `json:"status,omitempty"`
	MarketData   *model.MarketData   `json:"market_data,omitempty"`
	StatusReport *model.StatusReport `json:"status_report,omitempty"`
}

// Snapshot is a point-in-time copy of the service state.
type Snapshot struct {
	Channels            map[model.Channel]string `json:"channels"`
	LastMarketData      *model.MarketData        `json:"last_market_data,omitempty"`
	LastStatusReport    *model.StatusReport      `json:"last_status_report,omitempty"`
	RecentMarketData    []model.MarketData       `json:"recent_market_data"`
	RecentStatusReports []model.StatusReport     `json:"recent_status_reports"`
	MarketDataCount     int64                    `json:"market_data_count"`
	StatusReportCount   int64                    `json:"status_report_count"`
	DroppedEvents       int64                    `json:"dropped_events"`
}

// Options configures a Service.
type Options struct {
	SubscriberBuffer int // Per-subscriber channel size
}

// Service is the in-process status sink.
type Service struct {
	opts   Options
	logger *slog.Logger

	recentMarket *Ring[model.MarketData]
	recentStatus *Ring[model.StatusReport]

	mu          sync.RWMutex
	channels    map[model.Channel]string
	lastMarket  *model.MarketData
	lastStatus  *model.StatusReport
	marketCount int64
	statusCount int64
	dropped     int64
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewService creates a Service with every channel set to Initializing.
func NewService(opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}

	channels := make(map[model.Channel]string, len(model.Channels))
	for _, ch := range model.Channels {
		channels[ch] = model.StatusInitializing
	}

	return &Service{
		opts:         opts,
		logger:       logger.With("component", "status"),
		recentMarket: NewRing[model.MarketData](RecentCapacity),
		recentStatus: NewRing[model.StatusReport](RecentCapacity),
		channels:     channels,
		subscribers:  make(map[int]chan Event),
	}
}

// SetChannelStatus records the connection status text of a channel.
func (s *Service) SetChannelStatus(ch model.Channel, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channels[ch] == status {
		return
	}
	s.channels[ch] = status

	s.logger.Debug("channel status", "channel", ch, "status", status)
	s.publishLocked(Event{
		Kind:    EventChannelStatus,
		Time:    time.Now(),
		Channel: ch,
		Status:  status,
	})
}

// UpdateMarketData records the latest quote.
func (s *Service) UpdateMarketData(d model.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recentMarket.Push(d)
	s.lastMarket = &d
	s.marketCount++
	s.publishLocked(Event{
		Kind:       EventMarketData,
		Time:       time.Now(),
		MarketData: &d,
	})
}

// UpdateStatusReport records the latest strategy status report.
func (s *Service) UpdateStatusReport(r model.StatusReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recentStatus.Push(r)
	s.lastStatus = &r
	s.statusCount++
	s.publishLocked(Event{
		Kind:         EventStatusReport,
		Time:         time.Now(),
		StatusReport: &r,
	})
}

// ChannelStatus returns the current status text of a channel.
func (s *Service) ChannelStatus(ch model.Channel) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[ch]
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Channels:            make(map[model.Channel]string, len(s.channels)),
		RecentMarketData:    s.recentMarket.Items(),
		RecentStatusReports: s.recentStatus.Items(),
		MarketDataCount:     s.marketCount,
		StatusReportCount:   s.statusCount,
		DroppedEvents:       s.dropped,
	}
	for ch, st := range s.channels {
		snap.Channels[ch] = st
	}
	if s.lastMarket != nil {
		d := *s.lastMarket
		snap.LastMarketData = &d
	}
	if s.lastStatus != nil {
		r := *s.lastStatus
		snap.LastStatusReport = &r
	}
	return snap
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.opts.SubscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

func (s *Service) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscribers.
func (s *Service) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Close closes every subscriber channel. Updates after Close are still
// recorded but not published.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// publishLocked fans an event out without blocking. Must hold mu.
func (s *Service) publishLocked(ev Event) {
	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.dropped++
			s.logger.Warn("subscriber buffer full, dropping event",
				"subscriber", id,
				"kind", ev.Kind,
			)
		}
	}
}
