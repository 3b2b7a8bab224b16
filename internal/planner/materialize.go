package planner

import (
	"sort"
	"time"

	"fieldplan/internal/model"
	"fieldplan/internal/opt"
	"fieldplan/internal/travel"
)

// materialize turns the winning chromosome into persisted slots with real
// timestamps and computes the planning statistics.
func materialize(best opt.Chromosome, interventions []model.Intervention, technicians []model.Technician, dayStart time.Time, est *travel.Estimator) ([]model.Slot, model.PlanningStats, error) {
	techByID := make(map[string]model.Technician, len(technicians))
	for _, t := range technicians {
		techByID[t.ID] = t
	}

	byTech := map[string][]opt.Gene{}
	for _, g := range best.Genes {
		byTech[g.TechnicianID] = append(byTech[g.TechnicianID], g)
	}

	// Fixed iteration order keeps the float statistics totals identical for
	// identical chromosomes.
	techIDs := make([]string, 0, len(byTech))
	for id := range byTech {
		techIDs = append(techIDs, id)
	}
	sort.Strings(techIDs)

	slots := []model.Slot{}
	stats := model.PlanningStats{TotalInterventions: len(best.Genes), TechniciansUsed: len(byTech)}
	for _, techID := range techIDs {
		genes := byTech[techID]
		sort.Slice(genes, func(i, j int) bool {
			if genes[i].StartMin != genes[j].StartMin {
				return genes[i].StartMin < genes[j].StartMin
			}
			return genes[i].Intervention < genes[j].Intervention
		})
		tech := techByID[techID]
		for i, g := range genes {
			iv := interventions[g.Intervention]
			start := dayStart.Add(time.Duration(g.StartMin) * time.Minute)
			slots = append(slots, model.Slot{
				InterventionID: iv.ID,
				TechnicianID:   techID,
				Start:          start,
				End:            start.Add(time.Duration(iv.DurationMinutes) * time.Minute),
				Sequence:       i + 1,
			})
			stats.TotalDurationMinutes += iv.DurationMinutes
			if i > 0 {
				prev := interventions[genes[i-1].Intervention]
				e, err := est.Between(prev.ID, *prev.Location, iv.ID, *iv.Location, tech.CostPerKm(iv.Zone))
				if err != nil {
					return nil, model.PlanningStats{}, err
				}
				stats.TotalTravelMinutes += e.TimeMin
				stats.TotalDistanceKm += e.DistanceKm
				stats.TotalCost += e.Cost
			}
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].TechnicianID != slots[j].TechnicianID {
			return slots[i].TechnicianID < slots[j].TechnicianID
		}
		return slots[i].Sequence < slots[j].Sequence
	})
	stats.LoadBalanceScore = loadBalance(byTech, technicians)
	return slots, stats, nil
}

// loadBalance scores how evenly interventions spread across the technician
// pool: 10 minus the variance of per-technician counts, floored at 0.
// Technicians without any slot count as zero.
func loadBalance(byTech map[string][]opt.Gene, technicians []model.Technician) float64 {
	if len(technicians) == 0 {
		return 0
	}
	var sum float64
	counts := make([]float64, 0, len(technicians))
	for _, t := range technicians {
		c := float64(len(byTech[t.ID]))
		counts = append(counts, c)
		sum += c
	}
	mean := sum / float64(len(counts))
	var variance float64
	for _, c := range counts {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	score := 10 - variance
	if score < 0 {
		return 0
	}
	return score
}
