package dhw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	g := NewGenerator(DefaultSeed)

	a, err := g.Generate()
	require.NoError(t, err)
	b, err := g.Generate()
	require.NoError(t, err)

	assert.Equal(t, a.Flow, b.Flow)
	assert.Equal(t, a.Events, b.Events)
	assert.Len(t, a.Flow, 1440)
}

func TestGenerateSeedsDiffer(t *testing.T) {
	var distinct bool
	first, err := NewGenerator(1).Generate()
	require.NoError(t, err)
	for seed := uint64(2); seed < 10 && !distinct; seed++ {
		p, err := NewGenerator(seed).Generate()
		require.NoError(t, err)
		distinct = len(p.Events) != len(first.Events) || (len(p.Events) > 0 && p.Events[0] != first.Events[0])
	}
	assert.True(t, distinct)
}

func TestGenerateEventsAddUp(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		p, err := NewGenerator(seed).Generate()
		require.NoError(t, err)

		var want float64
		for _, ev := range p.Events {
			assert.GreaterOrEqual(t, ev.Rate, minFlow)
			assert.LessOrEqual(t, ev.Rate, maxFlow)
			assert.GreaterOrEqual(t, ev.Duration, 0.0)

			lo, hi := span(int(ev.Start/60), int((ev.Start+ev.Duration)/60), len(p.Flow))
			if hi > lo {
				want += ev.Rate * float64(hi-lo)
			}
		}

		var got float64
		for _, f := range p.Flow {
			assert.GreaterOrEqual(t, f, 0.0)
			got += f
		}
		assert.InDelta(t, want, got, 1e-9, "seed %d", seed)
	}
}

func TestProfileSampleAtNodes(t *testing.T) {
	p, err := NewGenerator(7).Generate()
	require.NoError(t, err)

	for i := 0; i < len(p.Flow); i += 37 {
		h := float64(i) / 60
		assert.InDelta(t, p.Flow[i], p.Sample(h), 1e-12, "bin %d", i)
	}
}

func TestSpan(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
		lo, hi     int
	}{
		{"inside", 420, 425, 420, 425},
		{"cut at horizon", 1438, 1450, 1438, 1440},
		{"past horizon", 1500, 1505, 1440, 1440},
		{"negative wraps", -5, -2, 1435, 1438},
		{"negative start positive end", -5, 3, 1435, 3},
		{"far negative clamps", -2000, 4, 0, 4},
		{"zero length", 10, 10, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := span(tt.start, tt.end, 1440)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestGenerateInvalidGrid(t *testing.T) {
	for _, g := range []Generator{
		{Horizon: 0, Resolution: time.Minute},
		{Horizon: time.Hour, Resolution: 0},
		{Horizon: time.Minute, Resolution: time.Minute},
	} {
		_, err := g.Generate()
		assert.ErrorIs(t, err, ErrInvalidGrid)
	}
}

func TestGenerateCustomGrid(t *testing.T) {
	p, err := Generator{Horizon: 2 * time.Hour, Resolution: 30 * time.Second, Seed: 3}.Generate()
	require.NoError(t, err)
	assert.Len(t, p.Flow, 240)
	assert.Equal(t, 30*time.Second, p.Resolution)
}
