// Package planner orchestrates one optimization run: candidate loading,
// travel cache warm-up, the genetic search, materialization, and persistence.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fieldplan/internal/metrics"
	"fieldplan/internal/model"
	"fieldplan/internal/opt"
	"fieldplan/internal/store"
	"fieldplan/internal/travel"
)

var ErrInvalidDateRange = errors.New("invalid date range")

const dateLayout = "2006-01-02"

type Service struct {
	Store store.Store
	Log   *slog.Logger
}

func New(st store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Store: st, Log: log}
}

// Optimize runs the full pipeline and persists the resulting planning as a
// draft. An empty candidate set is not an error: the planning is created
// with no slots and a warning.
func (s *Service) Optimize(ctx context.Context, req model.OptimizeRequest, createdBy string) (model.Planning, error) {
	started := time.Now()

	from, err := time.ParseInLocation(dateLayout, req.DateFrom, time.UTC)
	if err != nil {
		return model.Planning{}, ErrInvalidDateRange
	}
	to, err := time.ParseInLocation(dateLayout, req.DateTo, time.UTC)
	if err != nil {
		return model.Planning{}, ErrInvalidDateRange
	}
	if to.Before(from) {
		return model.Planning{}, ErrInvalidDateRange
	}
	// Inclusive end of the last day.
	to = to.Add(24*time.Hour - time.Nanosecond)

	params, err := s.parameters(ctx, req.ParameterSetID)
	if err != nil {
		return model.Planning{}, err
	}

	interventions, err := s.Store.LoadInterventions(ctx, from, to)
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
		return model.Planning{}, err
	}
	technicians, err := s.Store.LoadTechnicians(ctx, from, to)
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
		return model.Planning{}, err
	}

	name := req.Name
	if name == "" {
		name = "planning " + req.DateFrom
	}
	planning := model.Planning{
		Name:       name,
		DateFrom:   from,
		DateTo:     to,
		Algorithm:  "genetic",
		Parameters: params,
		Status:     model.PlanningDraft,
		CreatedBy:  createdBy,
		Slots:      []model.Slot{},
	}

	if len(interventions) == 0 || len(technicians) == 0 {
		planning.Warning = "no plannable interventions or technicians in range"
		planning.ComputationMs = time.Since(started).Milliseconds()
		s.Log.Warn("optimize: empty candidate set",
			"interventions", len(interventions), "technicians", len(technicians))
		metrics.OptimizeRuns.WithLabelValues("empty").Inc()
		return s.Store.CreatePlanning(ctx, planning)
	}

	cache := travel.NewCache()
	if persisted, err := s.Store.LoadTravelCache(ctx, time.Now().Add(-travel.FreshnessHorizon)); err != nil {
		s.Log.Warn("optimize: travel cache warm-up failed", "err", err)
	} else {
		cache.Warm(persisted)
	}
	estimator := &travel.Estimator{Cache: cache}

	runCtx := ctx
	if req.TimeBudgetMs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeBudgetMs)*time.Millisecond)
		defer cancel()
	}

	problem := opt.Problem{
		Interventions:  interventions,
		Technicians:    technicians,
		Params:         params,
		Travel:         estimator,
		PopulationSize: req.PopulationSize,
		Generations:    req.Generations,
		MutationRate:   req.MutationRate,
	}
	best, runStats, err := opt.Solve(runCtx, problem, req.Seed)
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
		return model.Planning{}, err
	}

	slots, stats, err := materialize(best, interventions, technicians, from, estimator)
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
		return model.Planning{}, err
	}
	planning.Slots = slots
	planning.Statistics = stats
	planning.Score = best.Score
	planning.ComputationMs = time.Since(started).Milliseconds()

	created, err := s.Store.CreatePlanning(ctx, planning)
	if err != nil {
		metrics.OptimizeRuns.WithLabelValues("error").Inc()
		return model.Planning{}, err
	}

	// New pairwise computations persist for future runs. Not fatal on error.
	if dirty := cache.DrainDirty(); len(dirty) > 0 {
		if err := s.Store.SaveTravelCache(ctx, dirty); err != nil {
			s.Log.Warn("optimize: travel cache persist failed", "err", err, "entries", len(dirty))
		}
	}

	outcome := "ok"
	if runStats.EarlyStop {
		outcome = "early_stop"
	}
	metrics.OptimizeRuns.WithLabelValues(outcome).Inc()
	metrics.OptimizeDuration.Observe(time.Since(started).Seconds())
	metrics.OptimizeBestScore.Set(best.Score)
	s.Log.Info("optimize: run complete",
		"planningId", created.ID,
		"interventions", len(interventions),
		"technicians", len(technicians),
		"score", best.Score,
		"generations", runStats.Generations,
		"evaluations", runStats.Evaluations,
		"earlyStop", runStats.EarlyStop,
		"seed", runStats.Seed,
		"tookMs", created.ComputationMs)
	return created, nil
}

func (s *Service) parameters(ctx context.Context, id string) (model.ParameterSet, error) {
	if id == "" {
		id = "default"
	}
	params, err := s.Store.GetParameterSet(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && id == "default" {
			return model.DefaultParameters(), nil
		}
		return model.ParameterSet{}, err
	}
	if err := params.ValidateWeights(); err != nil {
		return model.ParameterSet{}, err
	}
	return params, nil
}

// EstimateTravel is the one-off pairwise estimate behind POST /v1/travel/estimate.
func (s *Service) EstimateTravel(ctx context.Context, req model.TravelEstimateRequest) (model.TravelCacheEntry, error) {
	est, err := travel.NewEstimator(nil).Between("", req.From, "", req.To, req.CostPerKm)
	if err != nil {
		return model.TravelCacheEntry{}, err
	}
	return model.TravelCacheEntry{
		DistanceKm: est.DistanceKm,
		TimeMin:    est.TimeMin,
		Cost:       est.Cost,
		ComputedAt: time.Now().UTC(),
	}, nil
}
