package restriction

import (
	"testing"
	"time"

	"github.com/tradecore/engine/pkg/bartime"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("tzdata unavailable for %s: %v", name, err)
	}
	return loc
}

func TestTimeOfDayWrapAround(t *testing.T) {
	loc := mustLoc(t, "UTC")
	// US market hours: the closed window 16:00 -> 09:30 wraps midnight, so
	// trading holds for 09:30 <= now <= 16:00.
	r, err := NewTimeOfDay("16:00", "09:30", loc)
	if err != nil {
		t.Fatal(err)
	}
	trading := time.Date(2026, 1, 2, 12, 0, 0, 0, loc)    // noon, inside [09:30,16:00]
	notTrading := time.Date(2026, 1, 2, 20, 0, 0, 0, loc) // 20:00, inside the wrapped closed window
	if !r.IsTrading(trading) {
		t.Error("expected trading at noon for wrap window [16:00,09:30]")
	}
	if r.IsTrading(notTrading) {
		t.Error("expected not trading at 20:00 for wrap window [16:00,09:30]")
	}
}

func TestTimeOfDayNonWrap(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r, err := NewTimeOfDay("09:30", "16:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	// non-wrap: trading when now <= start OR end <= now
	before := time.Date(2026, 1, 2, 9, 0, 0, 0, loc)
	after := time.Date(2026, 1, 2, 17, 0, 0, 0, loc)
	inside := time.Date(2026, 1, 2, 12, 0, 0, 0, loc)
	if !r.IsTrading(before) || !r.IsTrading(after) {
		t.Error("expected trading outside [09:30,16:00)")
	}
	if r.IsTrading(inside) {
		t.Error("expected not trading at noon for non-wrap [09:30,16:00)")
	}
}

func TestFilterIdempotent(t *testing.T) {
	loc := mustLoc(t, "UTC")
	r := NewComposed(
		mustTimeOfDay(t, "16:00", "09:30", loc),
		NewDayOfWeek([]time.Weekday{time.Saturday, time.Sunday}, loc),
	)
	bars := bartime.Series{
		{Start: time.Date(2026, 1, 3, 20, 0, 0, 0, loc)}, // Saturday, excluded
		{Start: time.Date(2026, 1, 5, 20, 0, 0, 0, loc)}, // Monday night, closed
		{Start: time.Date(2026, 1, 5, 12, 0, 0, 0, loc)}, // Monday noon, trading
	}
	once := r.Filter(bars)
	twice := r.Filter(once)
	if len(once) != len(twice) {
		t.Fatalf("Filter not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Start != twice[i].Start {
			t.Fatalf("Filter not idempotent at %d", i)
		}
	}
	if len(once) != 1 || !once[0].Start.Equal(bars[2].Start) {
		t.Fatalf("unexpected filter result: %+v", once)
	}
}

func TestComposedOrderIndependence(t *testing.T) {
	loc := mustLoc(t, "UTC")
	tod := mustTimeOfDay(t, "16:00", "09:30", loc)
	dow := NewDayOfWeek([]time.Weekday{time.Saturday, time.Sunday}, loc)
	a := NewComposed(tod, dow)
	b := NewComposed(dow, tod)
	bars := bartime.Series{
		{Start: time.Date(2026, 1, 3, 20, 0, 0, 0, loc)},
		{Start: time.Date(2026, 1, 5, 20, 0, 0, 0, loc)},
		{Start: time.Date(2026, 1, 5, 12, 0, 0, 0, loc)},
	}
	ra := a.Filter(bars)
	rb := b.Filter(bars)
	if len(ra) != len(rb) {
		t.Fatalf("order dependence: %d vs %d", len(ra), len(rb))
	}
	for i := range ra {
		if ra[i].Start != rb[i].Start {
			t.Fatalf("order dependence at %d", i)
		}
	}
}

func mustTimeOfDay(t *testing.T, start, end string, loc *time.Location) *TimeOfDay {
	t.Helper()
	r, err := NewTimeOfDay(start, end, loc)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
