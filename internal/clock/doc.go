// Package clock abstracts time so that deadlines, backoff and heartbeats
// can be driven deterministically in tests.
//
// Production code holds a Clock and uses Real(). Tests use Fake(), which
// only moves when Advance is called:
//
//	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c := client.New(url, client.WithClock(clk))
//	// ... issue a request ...
//	clk.WaitForTimers(1)
//	clk.Advance(10 * time.Second) // request deadline fires
package clock
