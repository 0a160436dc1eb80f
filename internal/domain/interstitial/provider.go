package interstitial

// Handle is the provider-side object for one loading or loaded ad
type Handle interface {
	// ID uniquely identifies the handle within its provider
	ID() string

	// PlacementID returns the placement the handle was created for
	PlacementID() string
}

// Listener receives the lifecycle events of a single handle
type Listener interface {
	OnAdEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface
type ListenerFunc func(event Event)

// OnAdEvent calls f(event)
func (f ListenerFunc) OnAdEvent(event Event) { f(event) }

// Provider is the external ad-serving capability driven by the coordinator.
// Implementations may invoke listeners from any goroutine, including
// synchronously from within Load or Show.
type Provider interface {
	// Create builds a new handle for the placement
	Create(placementID string) (Handle, error)

	// Load starts loading the handle; the outcome arrives on the listener
	Load(handle Handle, listener Listener)

	// Show displays a loaded handle; display and dismissal arrive on the listener
	Show(handle Handle)

	// IsLoaded reports whether the handle is still loaded and showable
	IsLoaded(handle Handle) bool

	// Destroy releases the handle. Destroying twice is safe.
	Destroy(handle Handle)
}
