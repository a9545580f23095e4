package domain

import "time"

type UserRole string

const (
	RoleUser   UserRole = "user"
	RoleEditor UserRole = "editor"
	RoleAdmin  UserRole = "admin"
)

// User is the identity record supplied by the auth service. The chat gate
// reads nothing beyond ID and Role.
type User struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
)

// Message is a single transcript entry. Transcript order is insertion
// order; Timestamp is display-only.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

type PolicyStatus string

const (
	StatusActive      PolicyStatus = "active"
	StatusMaintenance PolicyStatus = "maintenance"
	StatusDisabled    PolicyStatus = "disabled"
)

type Provider string

const (
	ProviderHosted Provider = "hosted"
	ProviderLocal  Provider = "local"
)

// TimeRestrictions limits chat availability to certain weekdays and an
// optional time-of-day window. DaysOfWeek uses 0=Sunday..6=Saturday.
// The window applies only when both StartTime and EndTime are set as
// zero-padded "HH:MM".
type TimeRestrictions struct {
	Enabled    bool   `json:"enabled"`
	DaysOfWeek []int  `json:"daysOfWeek"`
	StartTime  string `json:"startTime,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
}

// APIConfig holds provider connection parameters. Endpoint, APIKey,
// MaxTokens and Temperature belong to the hosted provider; WebhookURL to
// the local one. Which branch is required is decided by Provider.
type APIConfig struct {
	Endpoint    string  `json:"endpoint,omitempty"`
	APIKey      string  `json:"apiKey,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	WebhookURL  string  `json:"webhookUrl,omitempty"`
}

// AccessPolicy is the admin-edited record governing the chat feature.
// It is read-only to this service's core: one evaluation sees one
// immutable snapshot.
type AccessPolicy struct {
	Status             PolicyStatus     `json:"status"`
	AllowedRoles       []UserRole       `json:"allowedRoles"`
	AllowedUsers       []string         `json:"allowedUsers"`
	TimeRestrictions   TimeRestrictions `json:"timeRestrictions"`
	MaintenanceMessage string           `json:"maintenanceMessage,omitempty"`
	Provider           Provider         `json:"provider"`
	APIConfig          APIConfig        `json:"apiConfig"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}
