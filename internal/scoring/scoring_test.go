package scoring

import (
	"errors"
	"math"
	"testing"
)

const tolerance = 1e-9

func approx(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestRouge1(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		candidate string
		want      float64
	}{
		{"identical", "the cat sat on the mat", "the cat sat on the mat", 1.0},
		{"empty candidate", "the cat sat", "", 0},
		{"empty reference", "", "the cat sat", 0},
		{"no overlap", "the cat sat", "dog runs", 0},
		{"shorter candidate", "Patient reports headache and nausea.", "Patient reports headache.", 0.75},
		{"clipped overlap", "the cat sat", "the the the", 2 * (1.0 / 3) * (1.0 / 3) / (2.0 / 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rouge1(tt.reference, tt.candidate)
			if !approx(got, tt.want) {
				t.Errorf("Rouge1() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBleu1(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		candidate string
		want      float64
	}{
		{"identical", "the cat sat", "the cat sat", 1.0},
		{"empty candidate", "the cat sat", "   ", 0},
		{"empty reference", "", "the cat sat", 0},
		// "the" occurs once in the reference, so only one of three matches counts.
		{"clipping", "the cat sat", "the the the", 1.0 / 3},
		{"brevity penalty", "Patient reports headache and nausea.", "Patient reports headache.", math.Exp(1 - 5.0/3)},
		{"longer candidate has no penalty", "the cat", "the cat sat down", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bleu1(tt.reference, tt.candidate)
			if !approx(got, tt.want) {
				t.Errorf("Bleu1() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBleu1ShortCandidatePenalized(t *testing.T) {
	got := Bleu1("Patient reports headache and nausea.", "Patient reports headache.")
	if got >= 1 {
		t.Errorf("expected brevity penalty below 1, got %v", got)
	}
}

func TestCombinedIsMean(t *testing.T) {
	pairs := [][2]float64{{0, 0}, {1, 1}, {0.25, 0.75}, {0.75, 0.5134}, {1, 0}}
	for _, p := range pairs {
		if got := Combined(p[0], p[1]); !approx(got, (p[0]+p[1])/2) {
			t.Errorf("Combined(%v, %v) = %v", p[0], p[1], got)
		}
	}
}

func TestSelfSimilarityIsMaximal(t *testing.T) {
	refs := []string{"a", "S: cough for 3 days. O: T 38.2C.", "Plan: follow up in 2 weeks"}
	for _, ref := range refs {
		if got := Rouge1(ref, ref); !approx(got, 1) {
			t.Errorf("Rouge1(%q, itself) = %v, want 1", ref, got)
		}
		if got := Bleu1(ref, ref); !approx(got, 1) {
			t.Errorf("Bleu1(%q, itself) = %v, want 1", ref, got)
		}
	}
}

func TestEvaluate(t *testing.T) {
	candidates := []Candidate{
		{ID: "gpt-4o-mini", Label: "gpt-4o-mini", Text: "Patient reports headache."},
		{ID: "blank", Label: "blank", Text: ""},
		{ID: "same", Label: "same", Text: "Patient reports headache and nausea."},
	}

	metrics, err := Evaluate("Patient reports headache and nausea.", candidates)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("expected 2 metrics (blank filtered), got %d", len(metrics))
	}
	if metrics[0].ID != "gpt-4o-mini" || metrics[1].ID != "same" {
		t.Errorf("unexpected order: %v", metrics)
	}
	if !approx(metrics[0].Combined, (metrics[0].Rouge1+metrics[0].Bleu1)/2) {
		t.Errorf("combined is not the mean: %+v", metrics[0])
	}
	if !approx(metrics[1].Combined, 1) {
		t.Errorf("expected identical candidate to score 1, got %+v", metrics[1])
	}
}

func TestEvaluateRequiresReference(t *testing.T) {
	_, err := Evaluate("", []Candidate{{ID: "a", Text: "x"}})
	if !errors.Is(err, ErrReferenceRequired) {
		t.Errorf("expected ErrReferenceRequired, got %v", err)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	ref := "S: 45yo with chest pain. A: rule out ACS. P: ECG, troponin."
	cands := []Candidate{{ID: "a", Label: "a", Text: "S: chest pain in 45 year old. P: ECG and troponin."}}

	first, err := Evaluate(ref, cands)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Evaluate(ref, cands)
	if err != nil {
		t.Fatal(err)
	}
	if first[0] != second[0] {
		t.Errorf("expected identical metrics, got %+v and %+v", first[0], second[0])
	}
}
