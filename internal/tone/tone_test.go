package tone

import "testing"

func TestAnalyzeNeutralText(t *testing.T) {
	r := NewHeuristic().Analyze("the meeting is at three", nil)
	if r.Label != Neutral {
		t.Fatalf("label = %q, want %q", r.Label, Neutral)
	}
}

func TestAnalyzeJoyfulText(t *testing.T) {
	r := NewHeuristic().Analyze("I'm so happy and excited about this!", nil)
	if r.Label != "joy" {
		t.Fatalf("label = %q, want joy", r.Label)
	}
	if r.Intensity <= 0 {
		t.Fatalf("intensity = %v, want > 0", r.Intensity)
	}
}

func TestAnalyzeIntensityBounded(t *testing.T) {
	r := NewHeuristic().Analyze("VERY EXTREMELY INCREDIBLY ANGRY FURIOUS MAD!!!!!", nil)
	if r.Intensity > 1 {
		t.Fatalf("intensity = %v, want <= 1", r.Intensity)
	}
	if r.Label != "anger" {
		t.Fatalf("label = %q, want anger", r.Label)
	}
}

func TestAnalyzeContextCarriesEmotion(t *testing.T) {
	a := NewHeuristic()
	with := a.Analyze("yes, exactly", []string{"I'm so sad and upset about it", "it made me feel depressed"})
	without := a.Analyze("yes, exactly", nil)
	if without.Label != Neutral {
		t.Fatalf("no-context label = %q, want neutral", without.Label)
	}
	if with.Label != "sadness" {
		t.Fatalf("context label = %q, want sadness", with.Label)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := NewHeuristic()
	first := a.Analyze("this is amazing, wow!", []string{"hello"})
	second := a.Analyze("this is amazing, wow!", []string{"hello"})
	if first != second {
		t.Fatalf("readings differ: %+v vs %+v", first, second)
	}
}

func TestPositiveNegativeLabels(t *testing.T) {
	if !Positive("joy") || Positive("anger") {
		t.Fatalf("Positive classification wrong")
	}
	if !Negative("fear") || Negative("joy") {
		t.Fatalf("Negative classification wrong")
	}
}
