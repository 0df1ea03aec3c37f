package memory

import "testing"

func TestShouldTriggerRecall(t *testing.T) {
	cases := map[string]bool{
		"What did we discuss yesterday?":    true,
		"Do you REMEMBER my dog's name?":    true,
		"you said something about Go":       true,
		"Like last time, keep it short":     true,
		"I asked this earlier":              true,
		"Have we talked about this before?": true,
		"What's the capital of Portugal?":   false,
		"":                                  false,
		"Tell me about memory management":   false,
	}
	for msg, want := range cases {
		if got := ShouldTriggerRecall(msg); got != want {
			t.Fatalf("ShouldTriggerRecall(%q) = %v, want %v", msg, got, want)
		}
	}
}
