// Package email owns the closed set of lifecycle email kinds: their payload
// shapes, subject lines, preference gating, and HTML rendering, plus the
// Sender interface and its Resend-backed implementation.
//
// Everything keyed by Kind lives in the single kindSpecs table below, so
// adding a new email kind is a one-place, compile-checked change rather than
// four parallel maps that can drift apart.
package email

import (
	"fmt"

	"github.com/reportbrief/reportbrief-backend/internal/db"
)

// Kind is the closed category of a lifecycle email. It determines the payload
// shape, subject line, preference flag, and template.
type Kind string

const (
	KindWelcome             Kind = "welcome"
	KindSummaryReady        Kind = "summary_ready"
	KindUsageWarning        Kind = "usage_warning"
	KindUsageLimit          Kind = "usage_limit"
	KindMonthlyReset        Kind = "monthly_reset"
	KindFirstReportReminder Kind = "first_report_reminder"
	KindInactiveUser        Kind = "inactive_user"
)

// Kinds lists every valid kind, in enqueue-site order.
var Kinds = []Kind{
	KindWelcome,
	KindSummaryReady,
	KindUsageWarning,
	KindUsageLimit,
	KindMonthlyReset,
	KindFirstReportReminder,
	KindInactiveUser,
}

// ErrUnknownKind is returned whenever a kind string has no spec entry. An
// unknown kind always fails loudly — enqueue and render never drop silently.
var ErrUnknownKind = fmt.Errorf("email: unknown kind")

type kindSpec struct {
	// subject computes the subject line from the payload. Most subjects are
	// static; monthly_reset interpolates the tier limit.
	subject func(Payload) string

	// allowed reports whether the user's preference flags permit this kind.
	// usage_warning and usage_limit share usage_warnings; the two engagement
	// kinds share engagement_emails.
	allowed func(db.EmailPreferences) bool

	// template is the embedded template file name, without extension.
	template string
}

var kindSpecs = map[Kind]kindSpec{
	KindWelcome: {
		subject:  func(Payload) string { return "Welcome to ReportBrief! 🎉" },
		allowed:  func(p db.EmailPreferences) bool { return p.WelcomeEmail },
		template: "welcome",
	},
	KindSummaryReady: {
		subject:  func(Payload) string { return "Your report summary is ready ✓" },
		allowed:  func(p db.EmailPreferences) bool { return p.SummaryReady },
		template: "summary_ready",
	},
	KindUsageWarning: {
		subject:  func(Payload) string { return "You have 1 report remaining this month" },
		allowed:  func(p db.EmailPreferences) bool { return p.UsageWarnings },
		template: "usage_warning",
	},
	KindUsageLimit: {
		subject:  func(Payload) string { return "You've reached your monthly limit" },
		allowed:  func(p db.EmailPreferences) bool { return p.UsageWarnings },
		template: "usage_limit",
	},
	KindMonthlyReset: {
		subject: func(p Payload) string {
			if d, ok := p.(MonthlyResetData); ok {
				return fmt.Sprintf("Your %d monthly reports have reset! 🔄", d.ReportsLimit)
			}
			return "Your monthly ReportBrief limit has reset! 🔄"
		},
		allowed:  func(p db.EmailPreferences) bool { return p.MonthlyReset },
		template: "monthly_reset",
	},
	KindFirstReportReminder: {
		subject:  func(Payload) string { return "Don't forget your first ReportBrief summary 🎯" },
		allowed:  func(p db.EmailPreferences) bool { return p.EngagementEmails },
		template: "first_report_reminder",
	},
	KindInactiveUser: {
		subject:  func(Payload) string { return "We miss you at ReportBrief 👋" },
		allowed:  func(p db.EmailPreferences) bool { return p.EngagementEmails },
		template: "inactive_user",
	},
}

// SubjectFor computes the subject line for a payload.
func SubjectFor(p Payload) (string, error) {
	spec, ok := kindSpecs[p.Kind()]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind())
	}
	return spec.subject(p), nil
}

// Allowed reports whether prefs permit sending kind. Every kind maps to
// exactly one flag; the fail-open handling for a missing preferences row is
// the caller's concern (the row either exists in full or not at all).
func Allowed(prefs db.EmailPreferences, kind Kind) (bool, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return spec.allowed(prefs), nil
}

// ParseKind validates a wire-format kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindSpecs[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
