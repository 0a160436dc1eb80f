package monitoring

import "strconv"

// CoordinatorObserver feeds coordinator lifecycle notifications into the
// Prometheus collectors above
type CoordinatorObserver struct{}

// NewCoordinatorObserver returns an observer with the idle state gauge set
func NewCoordinatorObserver() CoordinatorObserver {
	CoordinatorState.WithLabelValues("idle").Set(1)
	return CoordinatorObserver{}
}

func (CoordinatorObserver) StateChanged(from, to string) {
	CoordinatorState.WithLabelValues(from).Set(0)
	CoordinatorState.WithLabelValues(to).Set(1)
}

func (CoordinatorObserver) EventReceived(event string, stale bool) {
	ProviderEventsTotal.WithLabelValues(event, strconv.FormatBool(stale)).Inc()
}

func (CoordinatorObserver) HandleCreated() {
	HandlesCreatedTotal.Inc()
}

func (CoordinatorObserver) HandleDestroyed() {
	HandlesDestroyedTotal.Inc()
}
