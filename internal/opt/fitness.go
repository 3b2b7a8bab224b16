package opt

import (
	"math"
	"sort"
)

// Evaluate scores a chromosome. Higher is better; the floor is 0.
//
// Per technician: work durations plus inter-intervention travel times are
// accumulated, priorities earn a weighted bonus, and short tours earn
// distance/time bonuses normalized against a fixed 1000 constant (inherited
// scoring behavior — do not tune without re-validating plan quality).
// Exceeding the daily duty bound costs 10 points per overtime minute.
//
// For a fixed chromosome, parameter set, and cache state the result is
// deterministic.
func (p *Problem) Evaluate(ch *Chromosome) (float64, error) {
	byTech := map[string][]Gene{}
	for _, g := range ch.Genes {
		byTech[g.TechnicianID] = append(byTech[g.TechnicianID], g)
	}
	// Float addition is not associative, so the per-technician sums must be
	// accumulated in a fixed order rather than map order.
	techIDs := make([]string, 0, len(byTech))
	for id := range byTech {
		techIDs = append(techIDs, id)
	}
	sort.Strings(techIDs)

	var bonus, penalty float64
	for _, techID := range techIDs {
		genes := byTech[techID]
		sort.Slice(genes, func(i, j int) bool {
			if genes[i].StartMin != genes[j].StartMin {
				return genes[i].StartMin < genes[j].StartMin
			}
			return genes[i].Intervention < genes[j].Intervention
		})
		tech := p.techByID[techID]

		var durTotal, distTotal float64
		for i, g := range genes {
			iv := p.Interventions[g.Intervention]
			durTotal += float64(iv.DurationMinutes)
			bonus += float64(iv.Priority.Rank()) * p.Params.PriorityWeight * 100
			if i == 0 {
				continue
			}
			prev := p.Interventions[genes[i-1].Intervention]
			est, err := p.Travel.Between(prev.ID, *prev.Location, iv.ID, *iv.Location, tech.CostPerKm(iv.Zone))
			if err != nil {
				return 0, err
			}
			durTotal += est.TimeMin
			distTotal += est.DistanceKm
		}

		bonus += math.Max(0, 1000-distTotal) * p.Params.DistanceWeight
		bonus += math.Max(0, 1000-durTotal) * p.Params.TimeWeight
		if maxDaily := float64(p.Params.MaxDailyDurationMinutes); durTotal > maxDaily {
			penalty += (durTotal - maxDaily) * 10
		}
	}

	return math.Max(0, bonus-penalty), nil
}
