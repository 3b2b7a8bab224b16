package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu            sync.Mutex
	interventions map[string]model.Intervention
	technicians   map[string]model.Technician
	plannings     map[string]model.Planning
	planningIDs   []string // creation order, for cursor pagination
	params        map[string]model.ParameterSet
	travel        map[string]model.TravelCacheEntry // "a|b" with a<=b
	subs          []model.Subscription
	deliveries    map[string]*memDelivery
	deliveryIDs   []string
}

func NewMemory() *Memory {
	m := &Memory{
		interventions: map[string]model.Intervention{},
		technicians:   map[string]model.Technician{},
		plannings:     map[string]model.Planning{},
		params:        map[string]model.ParameterSet{},
		travel:        map[string]model.TravelCacheEntry{},
		deliveries:    map[string]*memDelivery{},
	}
	def := model.DefaultParameters()
	m.params[def.ID] = def
	return m
}

// memDelivery augments WebhookDelivery with scheduling/metrics state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

// PutIntervention upserts an intervention. Seeding helper for the memory
// backend and tests.
func (m *Memory) PutIntervention(iv model.Intervention) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interventions[iv.ID] = iv
}

// PutTechnician upserts a technician.
func (m *Memory) PutTechnician(t model.Technician) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.technicians[t.ID] = t
}

func (m *Memory) LoadInterventions(ctx context.Context, from, to time.Time) ([]model.Intervention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Intervention
	for _, iv := range m.interventions {
		if !candidateIntervention(iv, from, to) {
			continue
		}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// candidateIntervention applies the shared eligibility filter: plannable
// status, usable coordinates, and a date window overlapping [from, to].
// Records with no window at all are always in range.
func candidateIntervention(iv model.Intervention, from, to time.Time) bool {
	if iv.Status != model.InterventionPending && iv.Status != model.InterventionInProgress {
		return false
	}
	if iv.Location == nil {
		return false
	}
	if iv.EarliestDate != nil && iv.EarliestDate.After(to) {
		return false
	}
	if iv.LatestDate != nil && iv.LatestDate.Before(from) {
		return false
	}
	return true
}

func (m *Memory) LoadTechnicians(ctx context.Context, from, to time.Time) ([]model.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Technician
	for _, t := range m.technicians {
		if !t.Active {
			continue
		}
		if t.Role != "technician" && t.Role != "manager" {
			continue
		}
		t.Availability = overlappingAvailability(t.Availability, from, to)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// overlappingAvailability keeps the records intersecting [from, to].
func overlappingAvailability(av []model.Availability, from, to time.Time) []model.Availability {
	var out []model.Availability
	for _, a := range av {
		if a.Start.After(to) || a.End.Before(from) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (m *Memory) CreatePlanning(ctx context.Context, p model.Planning) (model.Planning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	for i := range p.Slots {
		if p.Slots[i].ID == "" {
			p.Slots[i].ID = uuid.New().String()
		}
		p.Slots[i].PlanningID = p.ID
	}
	m.plannings[p.ID] = p
	m.planningIDs = append(m.planningIDs, p.ID)
	return p, nil
}

func (m *Memory) GetPlanning(ctx context.Context, id string) (model.Planning, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plannings[id]
	if !ok {
		return model.Planning{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPlannings(ctx context.Context, status, cursor string, limit int) ([]model.Planning, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if cursor != "" {
		for i, id := range m.planningIDs {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	out := []model.Planning{}
	next := ""
	for i := start; i < len(m.planningIDs); i++ {
		p := m.plannings[m.planningIDs[i]]
		if status != "" && p.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, p)
	}
	return out, next, nil
}

func (m *Memory) ApplyPlanning(ctx context.Context, id, appliedBy string) (model.Planning, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plannings[id]
	if !ok {
		return model.Planning{}, 0, false, ErrNotFound
	}
	if p.Status == model.PlanningApplied {
		return p, 0, true, nil
	}
	updated := 0
	for _, s := range p.Slots {
		iv, ok := m.interventions[s.InterventionID]
		if !ok {
			continue
		}
		start := s.Start
		iv.TechnicianID = s.TechnicianID
		iv.ScheduledStart = &start
		iv.Status = model.InterventionAssigned
		m.interventions[iv.ID] = iv
		updated++
	}
	now := time.Now().UTC()
	p.Status = model.PlanningApplied
	p.AppliedAt = &now
	m.plannings[id] = p
	return p, updated, false, nil
}

func (m *Memory) ListParameterSets(ctx context.Context) ([]model.ParameterSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParameterSet, 0, len(m.params))
	for _, ps := range m.params {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetParameterSet(ctx context.Context, id string) (model.ParameterSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.params[id]
	if !ok {
		return model.ParameterSet{}, ErrNotFound
	}
	return ps, nil
}

func (m *Memory) SaveParameterSet(ctx context.Context, ps model.ParameterSet) (model.ParameterSet, error) {
	if err := ps.ValidateWeights(); err != nil {
		return model.ParameterSet{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps.ID == "" {
		ps.ID = uuid.New().String()
	}
	m.params[ps.ID] = ps
	return ps, nil
}

func travelKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (m *Memory) LoadTravelCache(ctx context.Context, notBefore time.Time) ([]model.TravelCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TravelCacheEntry
	for _, e := range m.travel {
		if e.ComputedAt.Before(notBefore) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) SaveTravelCache(ctx context.Context, entries []model.TravelCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.travel[travelKey(e.LocA, e.LocB)] = e
	}
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := 0
	if cursor != "" {
		for i := range m.subs {
			if m.subs[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(m.subs) {
		end = len(m.subs)
	}
	items := append([]model.Subscription(nil), m.subs[start:end]...)
	next := ""
	if end < len(m.subs) {
		next = m.subs[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.ID != id {
			out = append(out, s)
		}
	}
	if len(out) == len(m.subs) {
		return ErrNotFound
	}
	m.subs = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{
		WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"},
		NextAttemptAt:   time.Now(),
	}
	m.deliveries[id] = d
	m.deliveryIDs = append(m.deliveryIDs, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryIDs {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.deliveries[id]; d != nil {
		d.Attempts++
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}
