package opt

import (
	"context"
	"math/rand"
	"testing"

	"fieldplan/internal/model"
)

func parisInterventions(n int) []model.Intervention {
	out := make([]model.Intervention, n)
	for i := range out {
		out[i] = model.Intervention{
			ID:              "i" + string(rune('1'+i)),
			Zone:            "A",
			Priority:        model.PriorityNormal,
			DurationMinutes: 120,
			Location:        pt(48.85+float64(i)*0.01, 2.35+float64(i)*0.01),
			Status:          model.InterventionPending,
		}
	}
	return out
}

// checkValid asserts the chromosome validity invariant: exactly one gene per
// intervention index.
func checkValid(t *testing.T, ch *Chromosome, n int) {
	t.Helper()
	if len(ch.Genes) != n {
		t.Fatalf("chromosome has %d genes, want %d", len(ch.Genes), n)
	}
	seen := make([]bool, n)
	for _, g := range ch.Genes {
		if g.Intervention < 0 || g.Intervention >= n {
			t.Fatalf("gene references intervention %d out of range", g.Intervention)
		}
		if seen[g.Intervention] {
			t.Fatalf("intervention %d appears twice", g.Intervention)
		}
		seen[g.Intervention] = true
	}
}

func TestOperatorsPreserveValidity(t *testing.T) {
	p := testProblem(parisInterventions(5), []model.Technician{zoneTech("t1", "A"), zoneTech("t2", "A")})
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		c1 := p.randomChromosome(rng)
		c2 := p.randomChromosome(rng)
		checkValid(t, c1, 5)
		checkValid(t, c2, 5)

		child := crossover(c1, c2, rng)
		checkValid(t, child, 5)

		p.mutate(child, rng)
		checkValid(t, child, 5)
	}
}

func TestRandomStartWithinBusinessHours(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		s := randomStart(rng)
		if s < dayStartMin || s >= dayEndMin {
			t.Fatalf("start %d outside business hours [%d,%d)", s, dayStartMin, dayEndMin)
		}
		if s%slotStepMin != 0 {
			t.Fatalf("start %d not on quarter-hour granularity", s)
		}
	}
}

func TestSolveAssignsOnlyZoneEligibleTechnicians(t *testing.T) {
	// Two technicians, only t1 covers zone A. Every intervention is zone A,
	// so the whole plan must land on t1.
	p := Problem{
		Interventions:  parisInterventions(3),
		Technicians:    []model.Technician{zoneTech("t1", "A"), zoneTech("t2", "B")},
		Params:         model.DefaultParameters(),
		PopulationSize: 20,
		Generations:    15,
	}
	best, m, err := Solve(context.Background(), p, 42)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	checkValid(t, &best, 3)
	for _, g := range best.Genes {
		if g.TechnicianID != "t1" {
			t.Fatalf("gene assigned to %s, only t1 covers zone A", g.TechnicianID)
		}
	}
	if m.Generations != 15 {
		t.Fatalf("ran %d generations, want 15", m.Generations)
	}
	if best.Score <= 0 {
		t.Fatalf("expected a positive score, got %v", best.Score)
	}
}

func TestSolveZoneFallbackWhenNoTechnicianCovers(t *testing.T) {
	// Nobody covers zone Z; any technician becomes eligible rather than the
	// intervention being unplannable.
	ivs := parisInterventions(2)
	ivs[0].Zone = "Z"
	ivs[1].Zone = "Z"
	p := Problem{
		Interventions:  ivs,
		Technicians:    []model.Technician{zoneTech("t1", "A"), zoneTech("t2", "B")},
		Params:         model.DefaultParameters(),
		PopulationSize: 10,
		Generations:    5,
	}
	best, _, err := Solve(context.Background(), p, 1)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	checkValid(t, &best, 2)
}

func TestSolveDeterministicForFixedSeed(t *testing.T) {
	p := Problem{
		Interventions:  parisInterventions(4),
		Technicians:    []model.Technician{zoneTech("t1", "A"), zoneTech("t2", "A")},
		Params:         model.DefaultParameters(),
		PopulationSize: 12,
		Generations:    10,
	}
	b1, m1, err := Solve(context.Background(), p, 99)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	b2, m2, err := Solve(context.Background(), p, 99)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if b1.Score != b2.Score || m1.Evaluations != m2.Evaluations {
		t.Fatalf("runs with the same seed diverged: %v/%d vs %v/%d", b1.Score, m1.Evaluations, b2.Score, m2.Evaluations)
	}
	for i := range b1.Genes {
		if b1.Genes[i] != b2.Genes[i] {
			t.Fatalf("gene %d differs across seeded runs: %+v vs %+v", i, b1.Genes[i], b2.Genes[i])
		}
	}
}

func TestSolveDeadlineReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // budget already exhausted

	p := Problem{
		Interventions:  parisInterventions(3),
		Technicians:    []model.Technician{zoneTech("t1", "A")},
		Params:         model.DefaultParameters(),
		PopulationSize: 10,
		Generations:    50,
	}
	best, m, err := Solve(ctx, p, 3)
	if err != nil {
		t.Fatalf("Solve must degrade gracefully on deadline, got %v", err)
	}
	if !m.EarlyStop {
		t.Fatal("expected EarlyStop to be set")
	}
	if m.Generations != 0 {
		t.Fatalf("expected no completed generations, got %d", m.Generations)
	}
	checkValid(t, &best, 3)
}

func TestSolveEmptyInputs(t *testing.T) {
	best, _, err := Solve(context.Background(), Problem{Params: model.DefaultParameters()}, 5)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(best.Genes) != 0 {
		t.Fatalf("expected empty chromosome, got %d genes", len(best.Genes))
	}
}
