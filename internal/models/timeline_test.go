package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSortChronologically_OrdersByTime(t *testing.T) {
	in := []StatusEvent{
		{At: at("2024-01-02T09:00:00Z"), Description: "b"},
		{At: at("2024-01-01T10:00:00Z"), Description: "a"},
	}
	out := SortChronologically(in)
	require.Equal(t, "a", out[0].Description)
	require.Equal(t, "b", out[1].Description)
}

func TestSortChronologically_TiesAndUnknownKeepCarrierOrder(t *testing.T) {
	in := []StatusEvent{
		{At: at("2024-01-01T10:00:00Z"), Description: "first"},
		{Description: "no time"},
		{At: at("2024-01-01T10:00:00Z"), Description: "same time"},
		{At: at("2024-01-03T10:00:00Z"), Description: "last"},
	}
	out := SortChronologically(in)
	require.Equal(t, []string{"first", "no time", "same time", "last"}, descriptions(out))
}

func TestTimeline_LatestStage(t *testing.T) {
	require.Equal(t, StageUnknown, Timeline(nil).LatestStage())
	tl := Timeline{{Stage: StageCreated}, {Stage: StageDelivered}}
	require.Equal(t, StageDelivered, tl.LatestStage())
}

func TestTimeline_CloneIsDeep(t *testing.T) {
	loc := "Hub"
	tl := Timeline{{At: at("2024-01-01T10:00:00Z"), Location: &loc}}
	c := tl.Clone()
	*c[0].Location = "Other"
	*c[0].At = time.Time{}
	require.Equal(t, "Hub", *tl[0].Location)
	require.False(t, tl[0].At.IsZero())
}

func TestParseCarrier(t *testing.T) {
	require.Equal(t, CarrierUPS, ParseCarrier("UPS"))
	require.Equal(t, CarrierUnknown, ParseCarrier("nope"))
	require.False(t, CarrierUnknown.Known())
}

func descriptions(tl Timeline) []string {
	out := make([]string, 0, len(tl))
	for _, e := range tl {
		out = append(out, e.Description)
	}
	return out
}
