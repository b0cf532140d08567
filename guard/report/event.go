// Package report carries tamper events from the engine to their
// destinations. Delivery is best-effort: a Reporter queues events and hands
// them to a Sink on its own goroutine, so reporting never blocks recovery.
package report

// TamperType classifies what was tampered with.
type TamperType string

const (
	TamperDOM       TamperType = "dom"
	TamperNetwork   TamperType = "network"
	TamperProxy     TamperType = "proxy"
	TamperInjection TamperType = "injection"
)

// Event types.
const (
	EventTamperDetected    = "tamper_detected"
	EventSoftRecovery      = "soft_recovery"
	EventEmergencyRecovery = "emergency_recovery"
	EventLockdown          = "lockdown"
	EventRecoveryExit      = "recovery_exit"
	EventRecoveryFailed    = "recovery_failed"
	EventFalsePositive     = "false_positive"
	EventManual            = "manual_report"
	EventSimulation        = "simulation"
)

// TamperEvent is the immutable record posted to the collector.
type TamperEvent struct {
	ID              string         `json:"id"`
	ElementID       string         `json:"elementId"`
	Timestamp       int64          `json:"timestamp"` // epoch milliseconds
	URL             string         `json:"url"`
	EventType       string         `json:"eventType"`
	TamperType      TamperType     `json:"tamperType,omitempty"`
	DetectionMethod string         `json:"detectionMethod"`
	OriginalContent string         `json:"originalContent,omitempty"`
	TamperContent   string         `json:"tamperContent,omitempty"`
	Checksum        string         `json:"checksum,omitempty"`
	Attempts        int            `json:"attempts,omitempty"`
	Confidence      int            `json:"confidence,omitempty"`
	AdditionalInfo  map[string]any `json:"additionalInfo,omitempty"`
}

// Valid reports whether t is one of the four known tamper types.
func (t TamperType) Valid() bool {
	switch t {
	case TamperDOM, TamperNetwork, TamperProxy, TamperInjection:
		return true
	}
	return false
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// Back off to a rune boundary.
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
