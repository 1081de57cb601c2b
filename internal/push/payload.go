package push

// Urgency is the Web Push transport hint telling the push service how
// eagerly to wake the device.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Payload is the JSON document the service worker receives. Tag should be
// stable per logical event so repeated updates replace each other on the
// device instead of stacking.
type Payload struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Badge              string         `json:"badge,omitempty"`
	Image              string         `json:"image,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
	Tag                string         `json:"tag,omitempty"`
	RequireInteraction bool           `json:"requireInteraction"`
	Priority           string         `json:"priority,omitempty"`
	Urgency            Urgency        `json:"urgency,omitempty"`
	Vibrate            []int          `json:"vibrate,omitempty"`
	Renotify           bool           `json:"renotify"`
	Sticky             bool           `json:"sticky"`
	Timestamp          int64          `json:"timestamp"`
}
