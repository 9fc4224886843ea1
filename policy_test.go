package modflash

import "testing"

func TestSelectUpdatePicksGreatestUpgrade(t *testing.T) {
	hw := [4]byte{1, 10, 2, 0}
	current := FirmwareVersion{Hardware: hw, Software: [3]byte{1, 0, 0}}

	candidates := []FirmwareVersion{
		{Hardware: hw, Software: [3]byte{0, 9, 9}},              // older, rejected
		{Hardware: hw, Software: [3]byte{1, 2, 0}},              // upgrade
		{Hardware: hw, Software: [3]byte{1, 5, 0}},              // best upgrade
		{Hardware: [4]byte{2, 10, 2, 0}, Software: [3]byte{9, 9, 9}}, // wrong hardware
		{Hardware: hw, Software: [3]byte{255, 255, 255}},        // blank sentinel
	}

	got, ok := SelectUpdate(current, candidates)
	if !ok {
		t.Fatalf("expected an eligible upgrade")
	}
	want := FirmwareVersion{Hardware: hw, Software: [3]byte{1, 5, 0}}
	if got != want {
		t.Fatalf("SelectUpdate() = %+v, want %+v", got, want)
	}
}

func TestSelectUpdateNoEligibleCandidate(t *testing.T) {
	hw := [4]byte{1, 10, 2, 0}
	current := FirmwareVersion{Hardware: hw, Software: [3]byte{5, 0, 0}}

	candidates := []FirmwareVersion{
		{Hardware: hw, Software: [3]byte{1, 0, 0}},
		{Hardware: hw, Software: [3]byte{4, 9, 9}},
	}

	if _, ok := SelectUpdate(current, candidates); ok {
		t.Fatalf("expected no eligible upgrade")
	}
}

func TestSelectUpdateEmptyCandidates(t *testing.T) {
	current := FirmwareVersion{Hardware: [4]byte{1, 10, 2, 0}, Software: [3]byte{1, 0, 0}}
	if _, ok := SelectUpdate(current, nil); ok {
		t.Fatalf("expected no eligible upgrade from an empty candidate set")
	}
}

func TestSelectUpdateOverBlankModule(t *testing.T) {
	hw := [4]byte{1, 10, 2, 0}
	blank := FirmwareVersion{Hardware: hw, Software: [3]byte{255, 255, 255}}

	candidates := []FirmwareVersion{
		{Hardware: hw, Software: [3]byte{0, 0, 1}},
		{Hardware: hw, Software: [3]byte{0, 1, 0}},
	}

	got, ok := SelectUpdate(blank, candidates)
	if !ok {
		t.Fatalf("expected an eligible upgrade for a blank module")
	}
	want := FirmwareVersion{Hardware: hw, Software: [3]byte{0, 1, 0}}
	if got != want {
		t.Fatalf("SelectUpdate() = %+v, want %+v", got, want)
	}
}
