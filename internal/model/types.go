package model

import (
	"errors"
	"math"
	"time"
)

// Core domain types for the planning service.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Priority of an intervention. Ordering matters: Low < Normal < High < Urgent.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the ordinal weight of a priority (1..4). Unknown values rank
// as Normal so that dirty data does not starve an intervention.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 2
	}
}

const (
	InterventionPending    = "pending"
	InterventionInProgress = "in_progress"
	InterventionAssigned   = "assigned"
)

// Intervention is one unit of field work. Immutable during an optimization
// run. Location is nil when the record has no usable coordinates; such
// interventions are never handed to the optimizer.
type Intervention struct {
	ID              string     `json:"id"`
	Zone            string     `json:"zone"`
	Priority        Priority   `json:"priority"`
	DurationMinutes int        `json:"durationMinutes"`
	Location        *GeoPoint  `json:"location,omitempty"`
	Status          string     `json:"status"`
	EarliestDate    *time.Time `json:"earliestDate,omitempty"`
	LatestDate      *time.Time `json:"latestDate,omitempty"`

	// Assignment, written back when a planning is applied.
	TechnicianID   string     `json:"technicianId,omitempty"`
	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
}

// TechnicianZone declares one service area a technician covers.
type TechnicianZone struct {
	Zone      string  `json:"zone"`
	RadiusKm  float64 `json:"radiusKm"`
	CostPerKm float64 `json:"costPerKm"`
}

type Availability struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // work, leave, sick, ...
}

type Technician struct {
	ID           string           `json:"id"`
	Name         string           `json:"name,omitempty"`
	Role         string           `json:"role"` // technician, manager
	Active       bool             `json:"active"`
	Zones        []TechnicianZone `json:"zones"`
	Availability []Availability   `json:"availability,omitempty"`
}

// CoversZone reports whether the technician declares the given zone.
func (t Technician) CoversZone(zone string) bool {
	for _, z := range t.Zones {
		if z.Zone == zone {
			return true
		}
	}
	return false
}

// CostPerKm returns the per-km travel cost for the given zone, falling back
// to the first declared zone when there is no exact match.
func (t Technician) CostPerKm(zone string) float64 {
	for _, z := range t.Zones {
		if z.Zone == zone {
			return z.CostPerKm
		}
	}
	if len(t.Zones) > 0 {
		return t.Zones[0].CostPerKm
	}
	return 0
}

// ErrWeightsInvalid is returned when a parameter set's weights do not sum to
// 1.0 within the accepted tolerance.
var ErrWeightsInvalid = errors.New("parameter weights must sum to 1.0 (±0.01)")

// ParameterSet is the weighting/configuration object consumed by the fitness
// evaluator and the genetic optimizer. Read-only during a run.
type ParameterSet struct {
	ID                      string  `json:"id"`
	Name                    string  `json:"name"`
	DistanceWeight          float64 `json:"distanceWeight"`
	TimeWeight              float64 `json:"timeWeight"`
	PriorityWeight          float64 `json:"priorityWeight"`
	CostWeight              float64 `json:"costWeight"`
	MaxDailyDurationMinutes int     `json:"maxDailyDurationMinutes"`
	MinBreakMinutes         int     `json:"minBreakMinutes"`
	MaxTravelDistanceKm     float64 `json:"maxTravelDistanceKm"`
	Default                 bool    `json:"default"`
}

// ValidateWeights enforces the sum-to-1.0 invariant.
func (p ParameterSet) ValidateWeights() error {
	sum := p.DistanceWeight + p.TimeWeight + p.PriorityWeight + p.CostWeight
	if math.Abs(sum-1.0) > 0.01 {
		return ErrWeightsInvalid
	}
	return nil
}

// DefaultParameters is the system default weight set. A copy lives in the
// store and may be edited; this value seeds it.
func DefaultParameters() ParameterSet {
	return ParameterSet{
		ID:                      "default",
		Name:                    "default",
		DistanceWeight:          0.3,
		TimeWeight:              0.3,
		PriorityWeight:          0.3,
		CostWeight:              0.1,
		MaxDailyDurationMinutes: 480,
		MinBreakMinutes:         60,
		MaxTravelDistanceKm:     200,
		Default:                 true,
	}
}

const (
	PlanningDraft   = "draft"
	PlanningApplied = "applied"
)

// Slot is one scheduled intervention inside a persisted planning.
type Slot struct {
	ID             string    `json:"id"`
	PlanningID     string    `json:"planningId"`
	InterventionID string    `json:"interventionId"`
	TechnicianID   string    `json:"technicianId"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Sequence       int       `json:"sequence"` // order within the technician's day
}

// PlanningStats summarizes a materialized planning.
type PlanningStats struct {
	TotalInterventions   int     `json:"totalInterventions"`
	TechniciansUsed      int     `json:"techniciansUsed"`
	TotalDurationMinutes int     `json:"totalDurationMinutes"`
	TotalTravelMinutes   float64 `json:"totalTravelMinutes"`
	TotalDistanceKm      float64 `json:"totalDistanceKm"`
	TotalCost            float64 `json:"totalCost"`
	LoadBalanceScore     float64 `json:"loadBalanceScore"`
}

// Planning is the persisted result of one optimization run. Immutable after
// creation except for the draft → applied status transition.
type Planning struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	DateFrom      time.Time     `json:"dateFrom"`
	DateTo        time.Time     `json:"dateTo"`
	Algorithm     string        `json:"algorithm"`
	Score         float64       `json:"score"`
	ComputationMs int64         `json:"computationTimeMs"`
	Parameters    ParameterSet  `json:"parameters"`
	Status        string        `json:"status"`
	CreatedBy     string        `json:"createdBy,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	AppliedAt     *time.Time    `json:"appliedAt,omitempty"`
	Slots         []Slot        `json:"slots"`
	Statistics    PlanningStats `json:"statistics"`
	Warning       string        `json:"warning,omitempty"`
}

// TravelCacheEntry is a memoized pairwise travel lookup. The pair key is
// order-independent; entries older than the freshness horizon are recomputed.
type TravelCacheEntry struct {
	LocA       string    `json:"locA"`
	LocB       string    `json:"locB"`
	DistanceKm float64   `json:"distanceKm"`
	TimeMin    float64   `json:"timeMinutes"`
	Cost       float64   `json:"cost"`
	ComputedAt time.Time `json:"computedAt"`
}

// OptimizeRequest is the payload of POST /v1/optimize.
type OptimizeRequest struct {
	DateFrom       string  `json:"dateFrom" validate:"required"`
	DateTo         string  `json:"dateTo" validate:"required"`
	Name           string  `json:"name,omitempty"`
	Algorithm      string  `json:"algorithm,omitempty" validate:"omitempty,oneof=genetic"`
	PopulationSize int     `json:"populationSize,omitempty" validate:"omitempty,min=2,max=1000"`
	Generations    int     `json:"generations,omitempty" validate:"omitempty,min=1,max=10000"`
	MutationRate   float64 `json:"mutationRate,omitempty" validate:"omitempty,gt=0,lte=1"`
	ParameterSetID string  `json:"parameterSetId,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	TimeBudgetMs   int     `json:"timeBudgetMs,omitempty" validate:"omitempty,min=0"`
}

// TravelEstimateRequest is the payload of POST /v1/travel/estimate.
type TravelEstimateRequest struct {
	From      GeoPoint `json:"from" validate:"required"`
	To        GeoPoint `json:"to" validate:"required"`
	CostPerKm float64  `json:"costPerKm,omitempty" validate:"omitempty,min=0"`
}

// Webhook subscription types.
type SubscriptionRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,oneof=planning.created planning.applied"`
	Secret string   `json:"secret,omitempty"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
