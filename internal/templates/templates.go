// Package templates holds the order-status notification templates and the
// operator-authored custom templates used for ad-hoc broadcasts.
package templates

import (
	"strings"
	"time"
)

// Priority is the caller-specified importance of a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh
}

// Order lifecycle statuses seeded on first boot. completed and delivered
// carry near-identical content because both naming schemes are in use
// upstream.
const (
	StatusPending   = "pending"
	StatusPreparing = "preparing"
	StatusReady     = "ready"
	StatusCompleted = "completed"
	StatusDelivered = "delivered"
)

// OrderNumberPlaceholder is replaced with the order number when rendering.
const OrderNumberPlaceholder = "{orderNumber}"

const defaultIcon = "/icons/icon-192x192.png"

// Template is a reusable message keyed by order status.
type Template struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	Title              string    `json:"title"`
	Message            string    `json:"message"`
	Icon               string    `json:"icon"`
	Priority           Priority  `json:"priority"`
	RequireInteraction bool      `json:"requireInteraction"`
	Enabled            bool      `json:"enabled"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// CustomTemplate is an operator-authored broadcast template that is not tied
// to the order lifecycle.
type CustomTemplate struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Title              string    `json:"title"`
	Message            string    `json:"message"`
	Icon               string    `json:"icon"`
	Priority           Priority  `json:"priority"`
	RequireInteraction bool      `json:"requireInteraction"`
	Enabled            bool      `json:"enabled"`
	CreatedBy          string    `json:"createdBy"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Defaults returns the seed set, one template per order status.
func Defaults() []Template {
	return []Template{
		{
			Status:   StatusPending,
			Title:    "Order Received",
			Message:  "Your order #{orderNumber} has been received and is waiting to be prepared.",
			Icon:     defaultIcon,
			Priority: PriorityNormal,
			Enabled:  true,
		},
		{
			Status:   StatusPreparing,
			Title:    "Order Being Prepared",
			Message:  "Good news! Your order #{orderNumber} is now being prepared.",
			Icon:     defaultIcon,
			Priority: PriorityNormal,
			Enabled:  true,
		},
		{
			Status:             StatusReady,
			Title:              "Order Ready for Pickup!",
			Message:            "Your order #{orderNumber} is ready. Please collect it from the counter.",
			Icon:               defaultIcon,
			Priority:           PriorityHigh,
			RequireInteraction: true,
			Enabled:            true,
		},
		{
			Status:   StatusCompleted,
			Title:    "Order Completed",
			Message:  "Your order #{orderNumber} has been completed. Enjoy your meal!",
			Icon:     defaultIcon,
			Priority: PriorityNormal,
			Enabled:  true,
		},
		{
			Status:   StatusDelivered,
			Title:    "Order Delivered",
			Message:  "Your order #{orderNumber} has been delivered. Enjoy your meal!",
			Icon:     defaultIcon,
			Priority: PriorityNormal,
			Enabled:  true,
		},
	}
}

// Render replaces every {key} in text with vars[key]. Unknown placeholders
// are left as they are.
func Render(text string, vars map[string]string) string {
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// RenderOrder substitutes the order number into a template message.
func RenderOrder(message, orderNumber string) string {
	return strings.ReplaceAll(message, OrderNumberPlaceholder, orderNumber)
}
