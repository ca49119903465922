package toolloop

import "testing"

func TestDeterministicFallbackParsing(t *testing.T) {
	steps := deterministicFallback("create file report.txt with 4 lines then read it back")
	if len(steps) != 2 || steps[0].name != "fs_write" || steps[1].name != "fs_read" {
		t.Fatalf("unexpected fallback steps: %+v", steps)
	}

	steps = deterministicFallback("list and read the newest file in reports")
	if len(steps) != 2 || steps[0].name != "fs_glob" || steps[1].name != "fs_read" {
		t.Fatalf("unexpected fallback steps: %+v", steps)
	}

	steps = deterministicFallback("what's the weather like today")
	if steps != nil {
		t.Fatalf("expected no fallback match, got %+v", steps)
	}
}
