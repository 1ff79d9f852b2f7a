package domain

import "time"

// EventType discriminates receipt events.
type EventType string

// Event types emitted by template operations.
const (
	EventDeployDao      EventType = "DeployDao"
	EventSetupDao       EventType = "SetupDao"
	EventDeployToken    EventType = "DeployToken"
	EventInstallApp     EventType = "InstallApp"
	EventClaimSubdomain EventType = "ClaimSubdomain"
)

// Event is one machine-readable record of a template operation.
type Event struct {
	Type  EventType `json:"type" cbor:"type"`
	Org   Address   `json:"org" cbor:"org"`
	App   Address   `json:"app" cbor:"app"`
	AppID string    `json:"app_id,omitempty" cbor:"app_id,omitempty"`
	Token Address   `json:"token" cbor:"token"`
	Name  string    `json:"name,omitempty" cbor:"name,omitempty"`
}

// Receipt collects the events of one committed call.
type Receipt struct {
	Operation string    `json:"operation" cbor:"operation"`
	Principal Address   `json:"principal" cbor:"principal"`
	Events    []Event   `json:"events" cbor:"events"`
	At        time.Time `json:"at" cbor:"at"`
}

// Append adds events in order.
func (r *Receipt) Append(events ...Event) {
	r.Events = append(r.Events, events...)
}

// Find returns the events of type t in emission order.
func (r Receipt) Find(t EventType) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// InstalledApps returns the addresses of apps installed with the given app ID,
// in install order. Generic InstallApp events only disambiguate by app ID.
func (r Receipt) InstalledApps(appID string) []Address {
	var out []Address
	for _, e := range r.Events {
		if e.Type == EventInstallApp && e.AppID == appID {
			out = append(out, e.App)
		}
	}
	return out
}

// Org returns the organization address from the first event that carries one.
func (r Receipt) Org() Address {
	for _, e := range r.Events {
		if !e.Org.IsZero() {
			return e.Org
		}
	}
	return ZeroAddress
}
