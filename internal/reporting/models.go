package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest asks for call analytics over the last Days days ending now.
type SummaryRequest struct {
	Days int `json:"days"`
}

const (
	DefaultDays       = 30
	MaxDays           = 365
	topFailureReasons = 5
	maxReasonLength   = 120
)

type Summary struct {
	PeriodDays int       `json:"period_days"`
	Range      TimeRange `json:"range"`

	TotalCalls      int     `json:"total_calls"`
	FinishedCalls   int     `json:"finished_calls"`
	SuccessfulCalls int     `json:"successful_calls"`
	FailedCalls     int     `json:"failed_calls"`
	ActiveCalls     int     `json:"active_calls"`
	SuccessRate     float64 `json:"success_rate"`

	TotalDurationSeconds   int     `json:"total_duration_seconds"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	ByStatus       map[string]int  `json:"by_status"`
	DailySuccess   []DailyPoint    `json:"daily_success"`
	VolumeByHour   []HourBucket    `json:"volume_by_hour"`
	FailureReasons []FailureReason `json:"failure_reasons"`
}

// DailyPoint is one UTC day of finished calls.
type DailyPoint struct {
	Date        string  `json:"date"`
	Finished    int     `json:"finished"`
	Successful  int     `json:"successful"`
	SuccessRate float64 `json:"success_rate"`
}

// HourBucket counts calls created in one UTC hour of day, 0-23.
type HourBucket struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}
