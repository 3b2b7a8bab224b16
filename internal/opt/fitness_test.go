package opt

import (
	"fmt"
	"testing"

	"fieldplan/internal/model"
	"fieldplan/internal/travel"
)

func testProblem(interventions []model.Intervention, technicians []model.Technician) *Problem {
	p := &Problem{
		Interventions: interventions,
		Technicians:   technicians,
		Params:        model.DefaultParameters(),
		Travel:        travel.NewEstimator(nil),
	}
	p.index()
	return p
}

func pt(lat, lng float64) *model.GeoPoint { return &model.GeoPoint{Lat: lat, Lng: lng} }

func zoneTech(id, zone string) model.Technician {
	return model.Technician{
		ID:     id,
		Role:   "technician",
		Active: true,
		Zones:  []model.TechnicianZone{{Zone: zone, RadiusKm: 50, CostPerKm: 0.5}},
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	p := testProblem(
		[]model.Intervention{
			{ID: "i1", Zone: "A", Priority: model.PriorityNormal, DurationMinutes: 120, Location: pt(48.85, 2.35), Status: model.InterventionPending},
			{ID: "i2", Zone: "A", Priority: model.PriorityHigh, DurationMinutes: 60, Location: pt(48.90, 2.30), Status: model.InterventionPending},
		},
		[]model.Technician{zoneTech("t1", "A")},
	)
	ch := &Chromosome{Genes: []Gene{
		{Intervention: 0, TechnicianID: "t1", StartMin: 480},
		{Intervention: 1, TechnicianID: "t1", StartMin: 600},
	}}

	s1, err := p.Evaluate(ch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	s2, err := p.Evaluate(ch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("evaluate not deterministic: %v vs %v", s1, s2)
	}
	if s1 < 0 {
		t.Fatalf("score must be non-negative, got %v", s1)
	}
}

// Many technicians force many per-technician partial sums. If those sums were
// accumulated in map order, float non-associativity would leak into the score;
// the result must be bit-identical on every call.
func TestEvaluateStableAcrossManyTechnicians(t *testing.T) {
	const nTechs, nGenes = 7, 14
	var interventions []model.Intervention
	var technicians []model.Technician
	for i := 0; i < nTechs; i++ {
		technicians = append(technicians, zoneTech(fmt.Sprintf("t%d", i), "A"))
	}
	for i := 0; i < nGenes; i++ {
		interventions = append(interventions, model.Intervention{
			ID:              fmt.Sprintf("i%d", i),
			Zone:            "A",
			Priority:        model.PriorityNormal,
			DurationMinutes: 30 + i*7,
			Location:        pt(48.80+float64(i)*0.013, 2.30+float64(i)*0.011),
			Status:          model.InterventionPending,
		})
	}
	p := testProblem(interventions, technicians)

	genes := make([]Gene, nGenes)
	for i := range genes {
		genes[i] = Gene{Intervention: i, TechnicianID: fmt.Sprintf("t%d", i%nTechs), StartMin: 480 + (i%4)*60}
	}
	ch := &Chromosome{Genes: genes}

	first, err := p.Evaluate(ch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := 0; i < 5000; i++ {
		s, err := p.Evaluate(ch)
		if err != nil {
			t.Fatalf("Evaluate #%d: %v", i, err)
		}
		if s != first {
			t.Fatalf("call %d: score %v differs from first %v", i, s, first)
		}
	}
}

func TestEvaluateFavorsShorterTravel(t *testing.T) {
	// i0 and i1 are neighbors in Paris; i2 is in Lyon. Chromosome A pairs
	// the neighbors on t1; chromosome B makes t1 drive to Lyon instead.
	// Everything else (durations, priorities, per-technician counts) is
	// identical, so A must not score worse.
	p := testProblem(
		[]model.Intervention{
			{ID: "i0", Zone: "A", Priority: model.PriorityNormal, DurationMinutes: 60, Location: pt(48.8566, 2.3522), Status: model.InterventionPending},
			{ID: "i1", Zone: "A", Priority: model.PriorityNormal, DurationMinutes: 60, Location: pt(48.8600, 2.3600), Status: model.InterventionPending},
			{ID: "i2", Zone: "A", Priority: model.PriorityNormal, DurationMinutes: 60, Location: pt(45.7640, 4.8357), Status: model.InterventionPending},
		},
		[]model.Technician{zoneTech("t1", "A"), zoneTech("t2", "A")},
	)

	shortTravel := &Chromosome{Genes: []Gene{
		{Intervention: 0, TechnicianID: "t1", StartMin: 480},
		{Intervention: 1, TechnicianID: "t1", StartMin: 600},
		{Intervention: 2, TechnicianID: "t2", StartMin: 480},
	}}
	longTravel := &Chromosome{Genes: []Gene{
		{Intervention: 0, TechnicianID: "t1", StartMin: 480},
		{Intervention: 2, TechnicianID: "t1", StartMin: 600},
		{Intervention: 1, TechnicianID: "t2", StartMin: 480},
	}}

	sShort, err := p.Evaluate(shortTravel)
	if err != nil {
		t.Fatalf("Evaluate short: %v", err)
	}
	sLong, err := p.Evaluate(longTravel)
	if err != nil {
		t.Fatalf("Evaluate long: %v", err)
	}
	if sShort < sLong {
		t.Fatalf("shorter travel scored worse: short=%v long=%v", sShort, sLong)
	}
}

func TestEvaluateOvertimePenalty(t *testing.T) {
	mk := func(dur int) *Problem {
		return testProblem(
			[]model.Intervention{
				{ID: "i1", Zone: "A", Priority: model.PriorityNormal, DurationMinutes: dur, Location: pt(48.85, 2.35), Status: model.InterventionPending},
			},
			[]model.Technician{zoneTech("t1", "A")},
		)
	}
	ch := &Chromosome{Genes: []Gene{{Intervention: 0, TechnicianID: "t1", StartMin: 480}}}

	within, err := mk(240).Evaluate(ch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	over, err := mk(600).Evaluate(ch) // 120 min over the 480 min duty bound
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if over >= within {
		t.Fatalf("overtime chromosome must score lower: within=%v over=%v", within, over)
	}
}

func TestEvaluateScoreFloor(t *testing.T) {
	// A grotesque overtime day drives bonuses below zero; the score floors
	// at 0 instead of going negative.
	p := testProblem(
		[]model.Intervention{
			{ID: "i1", Zone: "A", Priority: model.PriorityLow, DurationMinutes: 10000, Location: pt(48.85, 2.35), Status: model.InterventionPending},
		},
		[]model.Technician{zoneTech("t1", "A")},
	)
	ch := &Chromosome{Genes: []Gene{{Intervention: 0, TechnicianID: "t1", StartMin: 480}}}
	s, err := p.Evaluate(ch)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if s != 0 {
		t.Fatalf("score = %v, want floor 0", s)
	}
}
