package email

import (
	"encoding/json"
	"fmt"
)

// Payload is the per-kind data bag rendered into a template. Each kind has
// its own closed struct, so a missing required field is a construction-time
// bug rather than a render-time surprise. Payloads round-trip through the
// email_queue.metadata JSONB column between enqueue and dispatch.
type Payload interface {
	Kind() Kind
}

// WelcomeData is the payload for the first-login welcome email.
type WelcomeData struct {
	Name string `json:"name"`
}

func (WelcomeData) Kind() Kind { return KindWelcome }

// SummaryReadyData is the payload for the post-generation summary email.
// ReportsRemaining and ReportsLimit are nil for unlimited (pro) accounts and
// omitted from the stored metadata.
type SummaryReadyData struct {
	Name             string  `json:"name"`
	ReportName       string  `json:"reportName"`
	ReportID         string  `json:"reportId"`
	TopMetric        string  `json:"topMetric"`
	NotableTrend     string  `json:"notableTrend"`
	GenerationTime   float64 `json:"generationTime"`
	ReportsRemaining *int    `json:"reportsRemaining,omitempty"`
	ReportsLimit     *int    `json:"reportsLimit,omitempty"`
}

func (SummaryReadyData) Kind() Kind { return KindSummaryReady }

// UsageWarningData is the payload for the one-report-remaining email.
type UsageWarningData struct {
	Name         string `json:"name"`
	ReportsUsed  int    `json:"reportsUsed"`
	ReportsLimit int    `json:"reportsLimit"`
	ResetDate    string `json:"resetDate"`
}

func (UsageWarningData) Kind() Kind { return KindUsageWarning }

// UsageLimitData is the payload for the limit-reached email.
type UsageLimitData struct {
	Name         string `json:"name"`
	ReportsUsed  int    `json:"reportsUsed"`
	ReportsLimit int    `json:"reportsLimit"`
	ResetDate    string `json:"resetDate"`
}

func (UsageLimitData) Kind() Kind { return KindUsageLimit }

// MonthlyResetData is the payload for the first-of-month reset email.
// LastMonthReports is optional; nil omits the recap line.
type MonthlyResetData struct {
	Name             string `json:"name"`
	CurrentMonth     string `json:"currentMonth"`
	ReportsLimit     int    `json:"reportsLimit"`
	LastMonthReports *int   `json:"lastMonthReports,omitempty"`
}

func (MonthlyResetData) Kind() Kind { return KindMonthlyReset }

// FirstReportReminderData is the payload for the three-days-in nudge.
type FirstReportReminderData struct {
	Name string `json:"name"`
}

func (FirstReportReminderData) Kind() Kind { return KindFirstReportReminder }

// InactiveUserData is the payload for the re-engagement email.
type InactiveUserData struct {
	Name string `json:"name"`
}

func (InactiveUserData) Kind() Kind { return KindInactiveUser }

// EncodePayload serialises a payload for the metadata column.
func EncodePayload(p Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("email: encode %s payload: %w", p.Kind(), err)
	}
	return raw, nil
}

// DecodePayload is the single exhaustive switch from a stored (kind, metadata)
// pair back to a typed payload. The direct-enqueue API and the renderer both
// go through here, so wire data and queue rows are validated identically.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var (
		p   Payload
		err error
	)

	switch kind {
	case KindWelcome:
		var d WelcomeData
		err = json.Unmarshal(raw, &d)
		p = d
	case KindSummaryReady:
		var d SummaryReadyData
		err = json.Unmarshal(raw, &d)
		p = d
	case KindUsageWarning:
		var d UsageWarningData
		err = json.Unmarshal(raw, &d)
		p = d
	case KindUsageLimit:
		var d UsageLimitData
		err = json.Unmarshal(raw, &d)
		p = d
	case KindMonthlyReset:
		var d MonthlyResetData
		err = json.Unmarshal(raw, &d)
		p = d
	case KindFirstReportReminder:
		var d FirstReportReminderData
		err = json.Unmarshal(raw, &d)
		p = d
	case KindInactiveUser:
		var d InactiveUserData
		err = json.Unmarshal(raw, &d)
		p = d
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("email: decode %s payload: %w", kind, err)
	}
	return p, nil
}
