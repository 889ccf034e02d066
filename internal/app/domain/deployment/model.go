package deployment

import (
	"strings"
	"time"
)

// NotLoading is the LoadingTicks value reported outside the loading state.
const NotLoading = -1

// CanonicalDomain returns the form under which a domain is stored and
// looked up. Domains are case-insensitive.
func CanonicalDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Deployment binds one module to one domain.
type Deployment struct {
	Domain        string            `json:"domain"`
	ModuleName    string            `json:"moduleName"`
	Owner         string            `json:"owner,omitempty"`
	Active        bool              `json:"active"`
	State         State             `json:"state"`
	URL           string            `json:"url,omitempty"`
	HostName      string            `json:"hostName,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	Injections    map[string]string `json:"injections,omitempty"`
	LoadingTicks  int64             `json:"loadingTicks"`
	LoadStartedAt time.Time         `json:"-"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy.
func (d Deployment) Clone() Deployment {
	cp := d
	if d.Injections != nil {
		cp.Injections = make(map[string]string, len(d.Injections))
		for k, v := range d.Injections {
			cp.Injections[k] = v
		}
	}
	return cp
}

// Ticks returns the number of whole intervals elapsed since the load began,
// or NotLoading when the deployment is not loading.
func (d Deployment) Ticks(now time.Time, interval time.Duration) int64 {
	if d.State != StateLoading || d.LoadStartedAt.IsZero() || interval <= 0 {
		return NotLoading
	}
	elapsed := now.Sub(d.LoadStartedAt)
	if elapsed < 0 {
		return 0
	}
	return int64(elapsed / interval)
}

// EventType names a recorded lifecycle transition.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventLoadStarted  EventType = "load_started"
	EventLoaded       EventType = "loaded"
	EventLoadFailed   EventType = "load_failed"
	EventUnloadStart  EventType = "unload_started"
	EventUnloaded     EventType = "unloaded"
	EventTeardownFail EventType = "teardown_failed"
	EventInterrupted  EventType = "interrupted"
)

// Event is one entry of a deployment's report.
type Event struct {
	ID      string    `json:"id"`
	Domain  string    `json:"domain"`
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
