package rates

// Window counts events in a fixed tick window that opens with the first event
// after the previous window expired.
type Window struct {
	Start uint64
	Count int
}

// Allow records one event at nowTick. A zero span or max disables the limit.
// When denied, cooldownTicks is the wait until the window reopens.
func (w *Window) Allow(nowTick, span uint64, max int) (ok bool, cooldownTicks uint64) {
	if span == 0 || max <= 0 {
		return true, 0
	}
	if nowTick-w.Start >= span {
		w.Start = nowTick
		w.Count = 0
	}
	w.Count++
	if w.Count <= max {
		return true, 0
	}
	return false, (w.Start + span) - nowTick
}
