package similarity_test

import (
	"testing"

	"github.com/MrWong99/scrivener/internal/segment"
	"github.com/MrWong99/scrivener/internal/similarity"
)

func TestRatio_Reflexive(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "AMATA ดูแนวต้าน 16.90", "hello world", "!!!"} {
		if got := similarity.Ratio(s, s); got != 1.0 {
			t.Errorf("Ratio(%q, %q) = %f, want 1.0", s, s, got)
		}
	}
}

func TestRatio_Symmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"AMATA ดูแนวต้าน 16.90", "AMATA ดูแนวต้าน 16.80"},
		{"the market closed higher", "market closed high"},
		{"", "something"},
	}
	for _, p := range pairs {
		ab := similarity.Ratio(p[0], p[1])
		ba := similarity.Ratio(p[1], p[0])
		if ab != ba {
			t.Errorf("Ratio not symmetric for %q/%q: %f vs %f", p[0], p[1], ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("Ratio(%q, %q) = %f out of [0,1]", p[0], p[1], ab)
		}
	}
}

func TestRatio_IgnoresCaseAndPunctuation(t *testing.T) {
	t.Parallel()

	if got := similarity.Ratio("Hello, World!", "hello world"); got != 1.0 {
		t.Errorf("Ratio = %f, want 1.0 after normalisation", got)
	}
}

func TestRatio_Ordering(t *testing.T) {
	t.Parallel()

	base := "AMATA ดูแนวต้าน 16.90"
	near := similarity.Ratio(base, "AMATA ดูแนวต้าน 16.80")
	far := similarity.Ratio(base, "หุ้นตัวต่อไป")
	if near <= far {
		t.Errorf("near=%f should exceed far=%f", near, far)
	}
	if near < 0.85 {
		t.Errorf("one-digit change scored %f, want >= 0.85", near)
	}
	if far > 0.5 {
		t.Errorf("unrelated sentence scored %f, want <= 0.5", far)
	}
}

func TestDefaultScorer(t *testing.T) {
	t.Parallel()

	a := segment.SentenceUnit{Text: "หุ้นตัวต่อไป", Index: 0}
	b := segment.SentenceUnit{Text: "หุ้นตัวต่อไป", Index: 1}
	if got := similarity.Default.Similarity(a, b); got != 1.0 {
		t.Errorf("Default.Similarity = %f, want 1.0", got)
	}
}
