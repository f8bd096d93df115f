package models

// Status is the verdict of a single verification job.
type Status string

const (
	StatusPass         Status = "PASS"
	StatusWarn         Status = "WARN"
	StatusFail         Status = "FAIL"
	StatusBlocked      Status = "BLOCKED"
	StatusUnverifiable Status = "UNVERIFIABLE"
	StatusError        Status = "ERROR"
)

// Statuses lists every status in report order.
var Statuses = []Status{
	StatusPass,
	StatusWarn,
	StatusFail,
	StatusBlocked,
	StatusUnverifiable,
	StatusError,
}

// Category names which tracking-script configuration was detected.
type Category string

const (
	CategorySPA    Category = "SPA"
	CategoryDCOM   Category = "DCOM"
	CategoryBundle Category = "BUNDLE"
	CategorySTD    Category = "STD"
	CategoryNone   Category = "NONE"
	CategoryErr    Category = "ERR"
)

// Method records which tier produced a result.
type Method string

const (
	MethodQuick   Method = "http_quick"
	MethodBrowser Method = "browser"
	MethodTracker Method = "block_tracker"
)

// BatchStatus represents the lifecycle of a batch run.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchComplete  BatchStatus = "complete"
	BatchCancelled BatchStatus = "cancelled"
)
