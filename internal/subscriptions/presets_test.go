package subscriptions

import (
	"strings"
	"testing"
)

func TestPresetSystemWideNeedsNoParam(t *testing.T) {
	pred, err := Preset("created")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if !strings.Contains(pred, "life_action = 'created'") {
		t.Errorf("unexpected predicate: %s", pred)
	}
}

func TestPresetTargetSubstitutesInstanceName(t *testing.T) {
	pred, err := Preset("idle:veki")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if !strings.Contains(pred, "instance = 'veki'") {
		t.Errorf("expected target substituted, got: %s", pred)
	}
}

func TestPresetTargetWithoutParamErrors(t *testing.T) {
	if _, err := Preset("idle"); err == nil {
		t.Error("expected an error for idle with no target")
	}
}

func TestPresetTargetEscapesSingleQuotes(t *testing.T) {
	pred, err := Preset("idle:o'brien")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if !strings.Contains(pred, "instance = 'o''brien'") {
		t.Errorf("expected escaped quote in predicate, got: %s", pred)
	}
}

func TestPresetCommandPatternEscapesWildcards(t *testing.T) {
	pred, err := Preset("cmd:100%_done")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if !strings.Contains(pred, `100\%\_done`) {
		t.Errorf("expected escaped wildcard characters, got: %s", pred)
	}
}

func TestPresetUnknownNameErrors(t *testing.T) {
	if _, err := Preset("not-a-real-preset"); err == nil {
		t.Error("expected an error for an unknown preset")
	}
}
