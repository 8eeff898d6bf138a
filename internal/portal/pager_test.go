package portal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicops/portal-sync/internal/mirror"
)

func TestLastPageSignals(t *testing.T) {
	cases := []struct {
		name string
		info PageInfo
		last bool
	}{
		{
			name: "current and last share an address",
			info: PageInfo{CurrentRef: "#p3", LastRef: "#p3", HasNext: true, NextRef: "#p4"},
			last: true,
		},
		{
			name: "label count says we are on the final page",
			info: PageInfo{CurrentRef: "#p12", CurrentLabel: "12", LastRef: "", LastLabel: "Last (12)", HasNext: true, NextRef: "#p13"},
			last: true,
		},
		{
			name: "no next link rendered",
			info: PageInfo{CurrentRef: "#p5", LastRef: "#p9", HasNext: false},
			last: true,
		},
		{
			name: "next link points back at the current page",
			info: PageInfo{CurrentRef: "#p5", LastRef: "#p9", HasNext: true, NextRef: "#p5"},
			last: true,
		},
		{
			name: "middle of the traversal",
			info: PageInfo{CurrentRef: "#p2", CurrentLabel: "2", LastRef: "#p9", LastLabel: "Last (9)", HasNext: true, NextRef: "#p3"},
			last: false,
		},
		{
			name: "garbled label does not stop the walk",
			info: PageInfo{CurrentRef: "#p2", CurrentLabel: "?", LastRef: "#p9", LastLabel: "Last", HasNext: true, NextRef: "#p3"},
			last: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.last, lastPage(tc.info))
		})
	}
}

func TestPagerWalksWholeGrid(t *testing.T) {
	backend := NewFakeBackend("user", "pass")
	backend.SetPageSize(3)

	var rows []HistoryRow
	for i := 0; i < 8; i++ {
		rows = append(rows, HistoryRow{
			Professional: "Dr. Reyes",
			Date:         fmt.Sprintf("%02d/03/2026", i+1),
			Time:         "09:00",
			Kind:         "Consultation",
		})
	}
	backend.AddHistory(mirror.SystemPrimary, 42, rows...)

	ctx := context.Background()
	drv := backend.Driver()
	require.NoError(t, drv.Login(ctx, mirror.SystemPrimary))
	require.NoError(t, drv.OpenHistory(ctx, 42))

	pager := NewPager(drv, 100, zap.NewNop())

	var got []HistoryRow
	for {
		page, err := drv.ReadGridPage(ctx)
		require.NoError(t, err)
		got = append(got, page...)

		if !pager.HasNext(ctx) {
			break
		}
		require.NoError(t, pager.Advance(ctx))
	}

	assert.Len(t, got, 8)
	assert.Equal(t, 3, pager.Visited())
}

// adversarialDriver claims another page exists forever; only the cap stops
// the walk.
type adversarialDriver struct {
	Driver
	page int
}

func (d *adversarialDriver) PageInfo(context.Context) (PageInfo, error) {
	return PageInfo{
		CurrentRef: fmt.Sprintf("#p%d", d.page),
		LastRef:    "#p999999",
		HasNext:    true,
		NextRef:    fmt.Sprintf("#p%d", d.page+1),
	}, nil
}

func (d *adversarialDriver) CurrentPage(context.Context) (int, error) {
	return d.page, nil
}

func (d *adversarialDriver) RequestPage(_ context.Context, page int) error {
	d.page = page
	return nil
}

func TestPagerCapStopsEndlessGrid(t *testing.T) {
	drv := &adversarialDriver{page: 1}
	pager := NewPager(drv, 5, zap.NewNop())

	ctx := context.Background()
	steps := 0
	for pager.HasNext(ctx) {
		require.NoError(t, pager.Advance(ctx))
		steps++
		require.Less(t, steps, 50, "traversal must terminate")
	}

	assert.Equal(t, 5, pager.Visited())
}

func TestPagerBrokenWidgetEndsTraversal(t *testing.T) {
	drv := &brokenWidgetDriver{}
	pager := NewPager(drv, 100, zap.NewNop())

	assert.False(t, pager.HasNext(context.Background()))
}

type brokenWidgetDriver struct {
	Driver
}

func (d *brokenWidgetDriver) PageInfo(context.Context) (PageInfo, error) {
	return PageInfo{}, fmt.Errorf("%w: widget missing", ErrUnexpectedState)
}
