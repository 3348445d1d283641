package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paincoach-agent/internal/domain"
)

func sampleObservations() []domain.Observation {
	return []domain.Observation{
		{Level: 7, Location: "lower back", CreatedAt: time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)},
		{Level: 4, Location: "left knee", CreatedAt: time.Date(2026, 8, 27, 18, 15, 0, 0, time.UTC)},
	}
}

func TestBuildSystemInstruction_Deterministic(t *testing.T) {
	tpl := DefaultPromptTemplate()
	obs := sampleObservations()

	first := buildSystemInstruction(tpl, obs)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, buildSystemInstruction(tpl, obs))
	}
}

func TestBuildSystemInstruction_ObservationLines(t *testing.T) {
	got := buildSystemInstruction(DefaultPromptTemplate(), sampleObservations())

	require.Contains(t, got, "On 2026-08-28: pain level 7/10 at 'lower back'.")
	require.Contains(t, got, "On 2026-08-27: pain level 4/10 at 'left knee'.")
	require.NotContains(t, got, noObservationsLine)

	// Observations render in the order given (newest first).
	require.Less(t,
		strings.Index(got, "lower back"),
		strings.Index(got, "left knee"))
}

func TestBuildSystemInstruction_EmptyObservations(t *testing.T) {
	got := buildSystemInstruction(DefaultPromptTemplate(), nil)
	require.Contains(t, got, noObservationsLine)
}

func TestBuildSystemInstruction_SectionsSubstitutable(t *testing.T) {
	tpl := PromptTemplate{
		Persona:             "You are a drill sergeant.",
		SafetyDirective:     "Defer everything to a physician.",
		FormattingDirective: "Answer in haiku form.",
	}
	got := buildSystemInstruction(tpl, nil)

	require.Contains(t, got, "You are a drill sergeant.")
	require.Contains(t, got, "2. Defer everything to a physician.")
	require.Contains(t, got, "3. Answer in haiku form.")

	// Swapping one section leaves the others untouched.
	tpl.SafetyDirective = "Never diagnose."
	swapped := buildSystemInstruction(tpl, nil)
	require.Contains(t, swapped, "You are a drill sergeant.")
	require.Contains(t, swapped, "2. Never diagnose.")
	require.Contains(t, swapped, "3. Answer in haiku form.")
}

func TestFormatObservation_UsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC+12", 12*3600)
	o := domain.Observation{
		Level:     3,
		Location:  "neck",
		CreatedAt: time.Date(2026, 8, 28, 10, 0, 0, 0, loc),
	}
	require.Equal(t, "On 2026-08-27: pain level 3/10 at 'neck'.", formatObservation(o))
}
