// Package opt implements the genetic search over intervention-to-technician
// assignments.
package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"fieldplan/internal/model"
	"fieldplan/internal/travel"
)

// Gene assigns one intervention (by index into Problem.Interventions) to a
// technician at a proposed start time, in minutes from midnight at
// quarter-hour granularity.
type Gene struct {
	Intervention int
	TechnicianID string
	StartMin     int
}

// Chromosome is one full candidate schedule: exactly one gene per
// intervention. It lives only inside the optimizer's working set.
type Chromosome struct {
	Genes []Gene
	Score float64
}

func (c *Chromosome) clone() *Chromosome {
	out := &Chromosome{Genes: make([]Gene, len(c.Genes)), Score: c.Score}
	copy(out.Genes, c.Genes)
	return out
}

// Problem bundles the candidate data and tuning for one run. All data is in
// memory before Solve starts; the loop performs no I/O.
type Problem struct {
	Interventions []model.Intervention
	Technicians   []model.Technician
	Params        model.ParameterSet
	Travel        *travel.Estimator

	PopulationSize int
	Generations    int
	MutationRate   float64

	techByID map[string]model.Technician
	eligible [][]int // per intervention: indices of zone-eligible technicians
}

const (
	DefaultPopulationSize = 50
	DefaultGenerations    = 100
	DefaultMutationRate   = 0.1

	// Business hours for proposed start times.
	dayStartMin = 8 * 60
	dayEndMin   = 16 * 60
	slotStepMin = 15

	eliteFraction  = 0.1
	tournamentSize = 3
)

// Metrics reports what one run actually did.
type Metrics struct {
	Generations int
	Evaluations int
	BestScore   float64
	EarlyStop   bool
	Seed        int64
}

// Solve runs the genetic search and returns the best chromosome found.
// seed 0 selects an entropy-based seed; any other value makes the run
// reproducible. The context deadline is honored at generation boundaries:
// on expiry the best chromosome found so far is returned, flagged as an
// early stop, never an error.
func Solve(ctx context.Context, p Problem, seed int64) (Chromosome, Metrics, error) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	m := Metrics{Seed: seed}

	if len(p.Interventions) == 0 || len(p.Technicians) == 0 {
		return Chromosome{}, m, nil
	}
	if p.PopulationSize <= 0 {
		p.PopulationSize = DefaultPopulationSize
	}
	if p.Generations <= 0 {
		p.Generations = DefaultGenerations
	}
	if p.MutationRate <= 0 {
		p.MutationRate = DefaultMutationRate
	}
	if p.Travel == nil {
		p.Travel = travel.NewEstimator(nil)
	}
	p.index()

	pop := make([]*Chromosome, p.PopulationSize)
	for i := range pop {
		pop[i] = p.randomChromosome(rng)
		if err := p.score(pop[i], &m); err != nil {
			return Chromosome{}, m, err
		}
	}

	best := fittest(pop).clone()
	elite := int(math.Ceil(float64(p.PopulationSize) * eliteFraction))

	for gen := 0; gen < p.Generations; gen++ {
		if ctx.Err() != nil {
			m.EarlyStop = true
			break
		}

		sort.Slice(pop, func(i, j int) bool { return pop[i].Score > pop[j].Score })
		if pop[0].Score > best.Score {
			best = pop[0].clone()
		}

		next := make([]*Chromosome, 0, p.PopulationSize)
		for i := 0; i < elite && i < len(pop); i++ {
			next = append(next, pop[i].clone())
		}
		for len(next) < p.PopulationSize {
			p1 := p.tournament(pop, rng)
			p2 := p.tournament(pop, rng)
			child := crossover(p1, p2, rng)
			if rng.Float64() < p.MutationRate {
				p.mutate(child, rng)
			}
			if err := p.score(child, &m); err != nil {
				return Chromosome{}, m, err
			}
			next = append(next, child)
		}
		pop = next
		m.Generations++
	}

	if top := fittest(pop); top.Score > best.Score {
		best = top.clone()
	}
	m.BestScore = best.Score
	return *best, m, nil
}

func (p *Problem) index() {
	p.techByID = make(map[string]model.Technician, len(p.Technicians))
	for _, t := range p.Technicians {
		p.techByID[t.ID] = t
	}
	p.eligible = make([][]int, len(p.Interventions))
	for i, iv := range p.Interventions {
		var idx []int
		for ti, t := range p.Technicians {
			if t.CoversZone(iv.Zone) {
				idx = append(idx, ti)
			}
		}
		if len(idx) == 0 {
			// No technician covers this zone anywhere: fall back to the
			// whole pool so the intervention stays plannable.
			idx = make([]int, len(p.Technicians))
			for ti := range p.Technicians {
				idx[ti] = ti
			}
		}
		p.eligible[i] = idx
	}
}

func (p *Problem) score(ch *Chromosome, m *Metrics) error {
	s, err := p.Evaluate(ch)
	if err != nil {
		return err
	}
	ch.Score = s
	m.Evaluations++
	return nil
}

func (p *Problem) randomChromosome(rng *rand.Rand) *Chromosome {
	genes := make([]Gene, len(p.Interventions))
	for i := range p.Interventions {
		genes[i] = Gene{
			Intervention: i,
			TechnicianID: p.randomTechnician(i, rng),
			StartMin:     randomStart(rng),
		}
	}
	return &Chromosome{Genes: genes}
}

func (p *Problem) randomTechnician(intervention int, rng *rand.Rand) string {
	cands := p.eligible[intervention]
	return p.Technicians[cands[rng.Intn(len(cands))]].ID
}

func randomStart(rng *rand.Rand) int {
	slots := (dayEndMin - dayStartMin) / slotStepMin
	return dayStartMin + rng.Intn(slots)*slotStepMin
}

// tournament samples tournamentSize chromosomes uniformly and keeps the best.
func (p *Problem) tournament(pop []*Chromosome, rng *rand.Rand) *Chromosome {
	best := pop[rng.Intn(len(pop))]
	for i := 1; i < tournamentSize; i++ {
		if c := pop[rng.Intn(len(pop))]; c.Score > best.Score {
			best = c
		}
	}
	return best
}

// crossover builds a child from genes [0,point) of p1 and [point,end) of p2.
// Both parents carry one gene per intervention index, so the child does too.
func crossover(p1, p2 *Chromosome, rng *rand.Rand) *Chromosome {
	n := len(p1.Genes)
	point := rng.Intn(n)
	genes := make([]Gene, n)
	copy(genes[:point], p1.Genes[:point])
	copy(genes[point:], p2.Genes[point:])
	return &Chromosome{Genes: genes}
}

// mutate rewrites one random gene: with equal probability either the
// assigned technician or the proposed start time.
func (p *Problem) mutate(ch *Chromosome, rng *rand.Rand) {
	i := rng.Intn(len(ch.Genes))
	if rng.Intn(2) == 0 {
		ch.Genes[i].TechnicianID = p.randomTechnician(ch.Genes[i].Intervention, rng)
	} else {
		ch.Genes[i].StartMin = randomStart(rng)
	}
}

func fittest(pop []*Chromosome) *Chromosome {
	best := pop[0]
	for _, c := range pop[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}
