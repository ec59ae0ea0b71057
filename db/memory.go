package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go-redzone/phone"
	"go-redzone/types"
)

// Memory implements every store interface in process. It backs local runs and
// tests. Aggregate updates are serialized per location by a keyed mutex.
type Memory struct {
	mu         sync.RWMutex
	reports    map[string]storedReport
	aggregates map[string]types.LocationAggregate
	users      map[string]types.User

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type storedReport struct {
	report    types.ClassifiedReport
	createdAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		reports:    make(map[string]storedReport),
		aggregates: make(map[string]types.LocationAggregate),
		users:      make(map[string]types.User),
		locks:      make(map[string]*sync.Mutex),
	}
}

var (
	_ ReportStore    = (*Memory)(nil)
	_ AggregateStore = (*Memory)(nil)
	_ UserDirectory  = (*Memory)(nil)
)

func (m *Memory) InsertIfAbsent(_ context.Context, report types.ClassifiedReport) (bool, error) {
	if strings.TrimSpace(report.TweetText) == "" {
		return false, ErrEmptyText
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.TweetText]; ok {
		return false, nil
	}
	m.reports[report.TweetText] = storedReport{report: report, createdAt: time.Now()}
	return true, nil
}

func (m *Memory) Exists(_ context.Context, text string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reports[text]
	return ok, nil
}

func (m *Memory) ListByLocation(_ context.Context, location string, limit int) ([]types.ClassifiedReport, error) {
	m.mu.RLock()
	var matched []storedReport
	for _, r := range m.reports {
		if r.report.Location == location {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].createdAt.After(matched[j].createdAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]types.ClassifiedReport, len(matched))
	for i, r := range matched {
		out[i] = r.report
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, location string) (*types.LocationAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.aggregates[location]
	if !ok {
		return nil, nil
	}
	return &agg, nil
}

func (m *Memory) lockFor(location string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[location]
	if !ok {
		l = &sync.Mutex{}
		m.locks[location] = l
	}
	return l
}

func (m *Memory) Update(ctx context.Context, location string, fn UpdateFunc) (types.LocationAggregate, error) {
	if location == "" {
		return types.LocationAggregate{}, ErrEmptyLocation
	}
	l := m.lockFor(location)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return types.LocationAggregate{}, err
	}

	current, _ := m.Get(ctx, location)
	next := fn(current)
	next.Location = location
	next.UpdatedAt = time.Now().UTC()
	if current == nil {
		next.NewLocation = true
	} else {
		next.FormattedAddress = current.FormattedAddress
		next.Lat, next.Lng = current.Lat, current.Lng
		next.NewLocation = current.NewLocation
	}

	m.mu.Lock()
	m.aggregates[location] = next
	m.mu.Unlock()
	return next, nil
}

func (m *Memory) List(_ context.Context, q AggregateQuery) ([]types.LocationAggregate, error) {
	m.mu.RLock()
	all := make([]types.LocationAggregate, 0, len(m.aggregates))
	for _, agg := range m.aggregates {
		all = append(all, agg)
	}
	m.mu.RUnlock()
	return filterAggregates(all, q), nil
}

// SetGeocode holds the location's update lock so it cannot interleave with
// an Update's read and write.
func (m *Memory) SetGeocode(_ context.Context, location string, point types.GeoPoint) error {
	l := m.lockFor(location)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.aggregates[location]
	if !ok {
		return nil
	}
	agg.FormattedAddress = point.FormattedAddress
	agg.Lat, agg.Lng = point.Lat, point.Lng
	agg.NewLocation = false
	m.aggregates[location] = agg
	return nil
}

func (m *Memory) FindByExactAddress(_ context.Context, location string) ([]types.User, error) {
	key := AddressKey(location)
	if key == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var users []types.User
	for _, u := range m.users {
		if u.Active && u.AddressKey == key {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].PhoneNumber < users[j].PhoneNumber })
	return users, nil
}

func (m *Memory) GetEmergencyContacts(_ context.Context, phoneNumber string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[phone.Canonical(phoneNumber)]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), u.EmergencyContacts...), nil
}

func (m *Memory) UpsertUser(_ context.Context, user types.User) error {
	u, err := prepareUser(user)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.users[u.PhoneNumber] = u
	m.mu.Unlock()
	return nil
}

// filterAggregates applies q to an unordered slice for backends without a query engine.
func filterAggregates(all []types.LocationAggregate, q AggregateQuery) []types.LocationAggregate {
	var out []types.LocationAggregate
	for _, agg := range all {
		if q.OnlyNew && !agg.NewLocation {
			continue
		}
		if q.DisasterType != "" && string(agg.DisasterType) != q.DisasterType {
			continue
		}
		if agg.AggregateScore < q.MinScore {
			continue
		}
		out = append(out, agg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AggregateScore == out[j].AggregateScore {
			return out[i].Location < out[j].Location
		}
		return out[i].AggregateScore > out[j].AggregateScore
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
