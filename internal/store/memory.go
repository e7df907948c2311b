package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"control_miles/internal/models"
)

// Memory is an in-process Repository. Records are copied on the way in and
// out so callers never alias stored state.
type Memory struct {
	mu        sync.RWMutex
	ledgers   map[string]models.DailyLedger
	byDate    map[string]string
	logs      map[string][]models.IRSLogEntry
	settings  *models.DetectorSettings
	vehicles  map[string]models.Vehicle
	vehicleIx []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		ledgers:  make(map[string]models.DailyLedger),
		byDate:   make(map[string]string),
		logs:     make(map[string][]models.IRSLogEntry),
		vehicles: make(map[string]models.Vehicle),
	}
}

var _ Repository = (*Memory)(nil)

func (m *Memory) GetLedger(_ context.Context, id string) (models.DailyLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[id]
	if !ok {
		return models.DailyLedger{}, models.ErrNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) LedgerByDate(ctx context.Context, date string) (models.DailyLedger, error) {
	m.mu.RLock()
	id, ok := m.byDate[date]
	m.mu.RUnlock()
	if !ok {
		return models.DailyLedger{}, models.ErrNotFound
	}
	return m.GetLedger(ctx, id)
}

func (m *Memory) CreateLedger(_ context.Context, l *models.DailyLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byDate[l.Date]; exists {
		return ErrDuplicateDate
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now
	l.Version = 1
	m.ledgers[l.ID] = l.Clone()
	m.byDate[l.Date] = l.ID
	return nil
}

func (m *Memory) UpdateLedger(_ context.Context, l *models.DailyLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.ledgers[l.ID]
	if !ok {
		return models.ErrNotFound
	}
	if stored.Version != l.Version {
		return models.ErrConflict
	}
	l.Version++
	l.CreatedAt = stored.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	m.ledgers[l.ID] = l.Clone()
	return nil
}

func (m *Memory) DeleteLedger(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(m.ledgers, id)
	delete(m.byDate, l.Date)
	delete(m.logs, id)
	return nil
}

func (m *Memory) LedgersInRange(_ context.Context, from, to string) ([]models.DailyLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DailyLedger, 0)
	for _, l := range m.ledgers {
		if l.Date >= from && l.Date <= to {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *Memory) AppendLog(_ context.Context, e *models.IRSLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	m.logs[e.DailyLedgerID] = append(m.logs[e.DailyLedgerID], *e)
	return nil
}

func (m *Memory) LogsByLedger(_ context.Context, ledgerID string) ([]models.IRSLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[ledgerID]
	out := make([]models.IRSLogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) LastLog(_ context.Context, ledgerID string) (models.IRSLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[ledgerID]
	if len(entries) == 0 {
		return models.IRSLogEntry{}, models.ErrNotFound
	}
	return entries[len(entries)-1], nil
}

func (m *Memory) DetectorSettings(_ context.Context) (models.DetectorSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return models.DefaultDetectorSettings(), nil
	}
	return *m.settings, nil
}

func (m *Memory) SaveDetectorSettings(_ context.Context, s models.DetectorSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = 1
	s.UpdatedAt = time.Now().UTC()
	m.settings = &s
	return nil
}

func (m *Memory) ListVehicles(_ context.Context) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(m.vehicleIx))
	for _, id := range m.vehicleIx {
		out = append(out, m.vehicles[id])
	}
	return out, nil
}

func (m *Memory) GetVehicle(_ context.Context, id string) (models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return models.Vehicle{}, models.ErrNotFound
	}
	return v, nil
}

func (m *Memory) CreateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	v.IsActive = len(m.vehicles) == 0
	m.vehicles[v.ID] = *v
	m.vehicleIx = append(m.vehicleIx, v.ID)
	return nil
}

func (m *Memory) UpdateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.vehicles[v.ID]
	if !ok {
		return models.ErrNotFound
	}
	v.CreatedAt = stored.CreatedAt
	v.IsActive = stored.IsActive
	v.UpdatedAt = time.Now().UTC()
	m.vehicles[v.ID] = *v
	return nil
}

func (m *Memory) ActivateVehicle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[id]; !ok {
		return models.ErrNotFound
	}
	for vid, v := range m.vehicles {
		v.IsActive = vid == id
		m.vehicles[vid] = v
	}
	return nil
}

func (m *Memory) HasActiveVehicle(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vehicles {
		if v.IsActive {
			return true, nil
		}
	}
	return false, nil
}
