// Package gate decides whether a user may use the chat feature right now.
// Evaluation is a pure function of the policy snapshot, the user record
// and the supplied clock reading, so callers can re-run it on every
// render without side effects.
package gate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// Denial reason codes, stable for the console UI.
const (
	ReasonUnavailable = "unavailable"
	ReasonRole        = "role"
	ReasonIdentity    = "identity"
	ReasonDay         = "day"
	ReasonTime        = "time"
)

const (
	defaultDeniedMessage      = "Chat is not available at this time."
	defaultMaintenanceMessage = "Chat is currently under maintenance."
)

// Decision is the evaluation result. Reason and Message are set only
// when Allowed is false.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func deny(reason, message string) Decision {
	return Decision{Reason: reason, Message: message}
}

// Evaluate applies the access criteria in a fixed order and short-circuits
// on the first failure; the order determines which reason the user sees.
// A nil policy (not loaded) or nil user (not authenticated) is a valid
// input and denies with ReasonUnavailable.
func Evaluate(policy *domain.AccessPolicy, user *domain.User, now time.Time) Decision {
	if policy == nil || user == nil {
		return deny(ReasonUnavailable, defaultDeniedMessage)
	}

	if policy.Status != domain.StatusActive {
		msg := defaultDeniedMessage
		if policy.Status == domain.StatusMaintenance {
			msg = policy.MaintenanceMessage
			if strings.TrimSpace(msg) == "" {
				msg = defaultMaintenanceMessage
			}
		}
		return deny(fmt.Sprintf("status:%s", policy.Status), msg)
	}

	if !roleAllowed(policy.AllowedRoles, user.Role) {
		return deny(ReasonRole, defaultDeniedMessage)
	}

	// An empty allowlist means no restriction by identity.
	if len(policy.AllowedUsers) > 0 && !contains(policy.AllowedUsers, user.ID) {
		return deny(ReasonIdentity, defaultDeniedMessage)
	}

	if policy.TimeRestrictions.Enabled {
		if !dayAllowed(policy.TimeRestrictions.DaysOfWeek, int(now.Weekday())) {
			return deny(ReasonDay, defaultDeniedMessage)
		}
		if !withinWindow(policy.TimeRestrictions, now) {
			return deny(ReasonTime, defaultDeniedMessage)
		}
	}

	return Decision{Allowed: true}
}

func roleAllowed(allowed []domain.UserRole, role domain.UserRole) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dayAllowed(days []int, weekday int) bool {
	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

// withinWindow checks the inclusive [StartTime, EndTime] window. Times
// are compared as minutes of day, never as raw strings, so "9:05" and
// "09:05" order identically. When either bound is absent or malformed,
// no window applies.
func withinWindow(tr domain.TimeRestrictions, now time.Time) bool {
	start, okStart := parseMinuteOfDay(tr.StartTime)
	end, okEnd := parseMinuteOfDay(tr.EndTime)
	if !okStart || !okEnd {
		return true
	}
	current := now.Hour()*60 + now.Minute()
	return current >= start && current <= end
}

func parseMinuteOfDay(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
