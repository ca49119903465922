package toolloop

import "testing"

func TestRequiresToolExecution(t *testing.T) {
	cases := []struct {
		prompt         string
		wantRequired   bool
		wantMemoryOnly bool
	}{
		{"create a file called notes.txt", true, false},
		{"what is the capital of France?", false, false},
		{"[scenario:memory] what did we discuss?", false, true},
		{"earlier in this chat you mentioned a date", false, true},
		{"list the files in /tmp", true, false},
	}
	for _, c := range cases {
		required, memoryOnly := RequiresToolExecution(c.prompt)
		if required != c.wantRequired || memoryOnly != c.wantMemoryOnly {
			t.Errorf("RequiresToolExecution(%q) = (%v, %v), want (%v, %v)", c.prompt, required, memoryOnly, c.wantRequired, c.wantMemoryOnly)
		}
	}
}

func TestOutputCap(t *testing.T) {
	cases := []struct {
		prompt string
		want   int
	}{
		{"hello", 48},
		{"What is the capital of France?", 180},
		{"give me 5 bullets on Go concurrency", 140 + 90*5},
		{"keep it concise please", 260},
	}
	for _, c := range cases {
		got := OutputCap(c.prompt, 0)
		if got != c.want {
			t.Errorf("OutputCap(%q) = %d, want %d", c.prompt, got, c.want)
		}
	}
}

func TestOutputCapRespectsExplicitMax(t *testing.T) {
	got := OutputCap("hello", 20)
	if got != 20 {
		t.Errorf("got %d, want explicit cap 20", got)
	}
}

func TestBulletCapClamped(t *testing.T) {
	got := OutputCap("give me 50 bullets", 0)
	if got != 900 {
		t.Errorf("got %d, want clamped 900", got)
	}
}
