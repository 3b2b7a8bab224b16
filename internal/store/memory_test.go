package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldplan/internal/model"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	loc := &model.GeoPoint{Lat: 48.85, Lng: 2.35}
	m.PutIntervention(model.Intervention{ID: "i1", Zone: "A", Priority: model.PriorityNormal, DurationMinutes: 60, Location: loc, Status: model.InterventionPending})
	m.PutIntervention(model.Intervention{ID: "i2", Zone: "A", Priority: model.PriorityHigh, DurationMinutes: 90, Location: loc, Status: model.InterventionInProgress})
	m.PutIntervention(model.Intervention{ID: "i3", Zone: "A", Priority: model.PriorityLow, DurationMinutes: 30, Location: nil, Status: model.InterventionPending})  // no coordinates
	m.PutIntervention(model.Intervention{ID: "i4", Zone: "A", Priority: model.PriorityLow, DurationMinutes: 30, Location: loc, Status: "done"})                    // terminal status
	m.PutTechnician(model.Technician{ID: "t1", Role: "technician", Active: true, Zones: []model.TechnicianZone{{Zone: "A", CostPerKm: 0.5}}})
	m.PutTechnician(model.Technician{ID: "t2", Role: "manager", Active: true, Zones: []model.TechnicianZone{{Zone: "A", CostPerKm: 0.5}}})
	m.PutTechnician(model.Technician{ID: "t3", Role: "technician", Active: false}) // inactive
	m.PutTechnician(model.Technician{ID: "t4", Role: "admin", Active: true})       // wrong role
	return m
}

func TestMemoryLoadCandidatesFilters(t *testing.T) {
	m := seedMemory(t)
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	ivs, err := m.LoadInterventions(context.Background(), from, to)
	if err != nil {
		t.Fatalf("LoadInterventions: %v", err)
	}
	if len(ivs) != 2 {
		t.Fatalf("got %d interventions, want 2 (no-location and terminal excluded)", len(ivs))
	}
	for _, iv := range ivs {
		if iv.ID == "i3" || iv.ID == "i4" {
			t.Fatalf("intervention %s should have been filtered out", iv.ID)
		}
	}

	techs, err := m.LoadTechnicians(context.Background(), from, to)
	if err != nil {
		t.Fatalf("LoadTechnicians: %v", err)
	}
	if len(techs) != 2 {
		t.Fatalf("got %d technicians, want 2 (inactive and non-field roles excluded)", len(techs))
	}
}

func TestMemoryLoadInterventionsDateWindow(t *testing.T) {
	m := NewMemory()
	loc := &model.GeoPoint{Lat: 48.85, Lng: 2.35}
	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	m.PutIntervention(model.Intervention{ID: "expired", Location: loc, Status: model.InterventionPending, LatestDate: &past})
	m.PutIntervention(model.Intervention{ID: "tooEarly", Location: loc, Status: model.InterventionPending, EarliestDate: &future})
	m.PutIntervention(model.Intervention{ID: "open", Location: loc, Status: model.InterventionPending})

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	ivs, err := m.LoadInterventions(context.Background(), from, from.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("LoadInterventions: %v", err)
	}
	if len(ivs) != 1 || ivs[0].ID != "open" {
		t.Fatalf("date window filter wrong: %+v", ivs)
	}
}

func TestMemoryLoadTechniciansAvailabilityWindow(t *testing.T) {
	m := NewMemory()
	from := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 5)
	m.PutTechnician(model.Technician{
		ID: "t1", Role: "technician", Active: true,
		Zones: []model.TechnicianZone{{Zone: "A", CostPerKm: 0.5}},
		Availability: []model.Availability{
			{Start: from.AddDate(0, 0, 1), End: from.AddDate(0, 0, 2), Type: "work"},
			{Start: from.AddDate(0, -2, 0), End: from.AddDate(0, -2, 5), Type: "leave"}, // long gone
			{Start: to.AddDate(0, 1, 0), End: to.AddDate(0, 1, 5), Type: "work"},        // far future
		},
	})

	techs, err := m.LoadTechnicians(context.Background(), from, to)
	if err != nil {
		t.Fatalf("LoadTechnicians: %v", err)
	}
	if len(techs) != 1 {
		t.Fatalf("got %d technicians, want 1", len(techs))
	}
	if len(techs[0].Availability) != 1 || techs[0].Availability[0].Type != "work" {
		t.Fatalf("availability not filtered to the window: %+v", techs[0].Availability)
	}
}

func TestMemoryApplyPlanningIdempotent(t *testing.T) {
	m := seedMemory(t)
	start := time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC)
	p, err := m.CreatePlanning(context.Background(), model.Planning{
		Name:   "week 36",
		Status: model.PlanningDraft,
		Slots: []model.Slot{
			{InterventionID: "i1", TechnicianID: "t1", Start: start, End: start.Add(time.Hour), Sequence: 1},
			{InterventionID: "i2", TechnicianID: "t1", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour), Sequence: 2},
		},
	})
	if err != nil {
		t.Fatalf("CreatePlanning: %v", err)
	}

	applied, updated, already, err := m.ApplyPlanning(context.Background(), p.ID, "admin")
	if err != nil {
		t.Fatalf("ApplyPlanning: %v", err)
	}
	if already || updated != 2 {
		t.Fatalf("first apply: updated=%d already=%v, want 2/false", updated, already)
	}
	if applied.Status != model.PlanningApplied || applied.AppliedAt == nil {
		t.Fatalf("planning not marked applied: %+v", applied)
	}

	ivs, _ := m.LoadInterventions(context.Background(), start.AddDate(0, 0, -1), start.AddDate(0, 0, 7))
	for _, iv := range ivs {
		if iv.ID == "i1" || iv.ID == "i2" {
			t.Fatalf("assigned intervention %s still loads as a candidate", iv.ID)
		}
	}

	_, updated, already, err = m.ApplyPlanning(context.Background(), p.ID, "admin")
	if err != nil {
		t.Fatalf("second ApplyPlanning: %v", err)
	}
	if !already || updated != 0 {
		t.Fatalf("second apply: updated=%d already=%v, want 0/true", updated, already)
	}
}

func TestMemoryApplyPlanningNotFound(t *testing.T) {
	m := NewMemory()
	_, _, _, err := m.ApplyPlanning(context.Background(), "missing", "admin")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryParameterSets(t *testing.T) {
	m := NewMemory()
	def, err := m.GetParameterSet(context.Background(), "default")
	if err != nil {
		t.Fatalf("default parameter set must be seeded: %v", err)
	}
	if err := def.ValidateWeights(); err != nil {
		t.Fatalf("seeded defaults invalid: %v", err)
	}

	def.DistanceWeight = 0.9 // sum now 1.6
	if _, err := m.SaveParameterSet(context.Background(), def); !errors.Is(err, model.ErrWeightsInvalid) {
		t.Fatalf("err = %v, want ErrWeightsInvalid", err)
	}

	def.DistanceWeight = 0.4
	def.TimeWeight = 0.2
	saved, err := m.SaveParameterSet(context.Background(), def)
	if err != nil {
		t.Fatalf("SaveParameterSet: %v", err)
	}
	got, _ := m.GetParameterSet(context.Background(), saved.ID)
	if got.DistanceWeight != 0.4 {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestMemoryTravelCacheRoundTrip(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	entries := []model.TravelCacheEntry{
		{LocA: "b", LocB: "a", DistanceKm: 3.2, TimeMin: 4.8, Cost: 1.6, ComputedAt: now},
		{LocA: "a", LocB: "c", DistanceKm: 9.9, TimeMin: 14.8, Cost: 4.9, ComputedAt: now.Add(-60 * 24 * time.Hour)},
	}
	if err := m.SaveTravelCache(context.Background(), entries); err != nil {
		t.Fatalf("SaveTravelCache: %v", err)
	}
	got, err := m.LoadTravelCache(context.Background(), now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("LoadTravelCache: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1 (stale excluded)", len(got))
	}
	if got[0].DistanceKm != 3.2 {
		t.Fatalf("wrong entry survived: %+v", got[0])
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	m := NewMemory()
	id, err := m.EnqueueWebhook(context.Background(), "s1", "planning.created", "http://example.com/hook", "sec", []byte(`{}`))
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	due, err := m.FetchDueWebhookDeliveries(context.Background(), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("due = %v err = %v, want one delivery", due, err)
	}

	next := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(context.Background(), id, false, &next, "boom", 500, 12); err != nil {
		t.Fatalf("MarkWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("delivery due before its backoff elapsed")
	}

	if err := m.MarkWebhookDelivery(context.Background(), id, true, nil, "", 200, 8); err != nil {
		t.Fatalf("MarkWebhookDelivery: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("delivered webhook fetched again")
	}
}
