package portal

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// advancePoll is how often Advance re-reads the current-page indicator while
// waiting for the grid to re-render.
const advancePoll = 200 * time.Millisecond

// advanceWait bounds that wait; past it the page change counts as a
// navigation failure.
const advanceWait = 10 * time.Second

var lastLabelTotal = regexp.MustCompile(`\((\d+)\)`)

// Pager walks a paginated portal grid. Termination combines three
// independent signals because each one alone intermittently misfires in the
// portal's own rendering; the hard page cap is the final safety valve, not
// the primary mechanism.
type Pager struct {
	drv     Driver
	log     *zap.Logger
	pageCap int
	visited int
}

func NewPager(drv Driver, pageCap int, log *zap.Logger) *Pager {
	if pageCap <= 0 {
		pageCap = 100
	}
	return &Pager{drv: drv, log: log, pageCap: pageCap, visited: 1}
}

// Visited reports how many pages the pager has landed on, including the
// first.
func (p *Pager) Visited() int {
	return p.visited
}

// HasNext reports whether another page exists. Any error reading the
// pagination widget counts as "no more pages"; a broken widget must not spin
// the traversal loop.
func (p *Pager) HasNext(ctx context.Context) bool {
	if p.visited >= p.pageCap {
		p.log.Warn("page cap reached, stopping traversal", zap.Int("cap", p.pageCap))
		return false
	}

	info, err := p.drv.PageInfo(ctx)
	if err != nil {
		p.log.Debug("pagination widget unreadable, treating as last page", zap.Error(err))
		return false
	}

	return !lastPage(info)
}

// lastPage ORs the three termination signals.
func lastPage(info PageInfo) bool {
	// Signal 1: the current and last links point at the same address.
	if info.CurrentRef != "" && info.CurrentRef == info.LastRef {
		return true
	}

	// Signal 2: the last link's label embeds the total page count.
	if m := lastLabelTotal.FindStringSubmatch(info.LastLabel); m != nil {
		total, _ := strconv.Atoi(m[1])
		cur, err := strconv.Atoi(strings.TrimSpace(info.CurrentLabel))
		if err == nil && cur >= total {
			return true
		}
	}

	// Signal 3: no next link, or a next link that points back at the
	// current page.
	if !info.HasNext {
		return true
	}
	if info.NextRef != "" && info.NextRef == info.CurrentRef {
		return true
	}

	return false
}

// Advance requests the next page and waits for the current-page indicator to
// show it, so the caller never reads rows from the page it just left.
func (p *Pager) Advance(ctx context.Context) error {
	cur, err := p.drv.CurrentPage(ctx)
	if err != nil {
		return fmt.Errorf("%w: read current page: %v", ErrNavigation, err)
	}
	next := cur + 1

	if err := p.drv.RequestPage(ctx, next); err != nil {
		return fmt.Errorf("%w: request page %d: %v", ErrNavigation, next, err)
	}

	deadline := time.Now().Add(advanceWait)
	for {
		got, err := p.drv.CurrentPage(ctx)
		if err == nil && got == next {
			p.visited++
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: page indicator never reached %d", ErrTimeout, next)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(advancePoll):
		}
	}
}
