package domain

import "strings"

// Intent is the closed set of conversational intents.
type Intent int

const (
	IntentCasual Intent = iota
	IntentPlanning
	IntentPlanningContinuation
	IntentCoaching
	IntentModify
	IntentConfirm
)

var intentNames = [...]string{
	IntentCasual:               "casual",
	IntentPlanning:             "planning",
	IntentPlanningContinuation: "planning_continuation",
	IntentCoaching:             "coaching",
	IntentModify:               "modify",
	IntentConfirm:              "confirm",
}

func (i Intent) String() string {
	if i < 0 || int(i) >= len(intentNames) {
		return "casual"
	}
	return intentNames[i]
}

// MarshalText encodes the intent by name.
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText decodes an intent name; unknown names decode to casual.
func (i *Intent) UnmarshalText(b []byte) error {
	*i, _ = ParseIntent(string(b))
	return nil
}

// ParseIntent maps a label to an Intent. ok is false for unknown labels,
// which map to IntentCasual.
func ParseIntent(s string) (Intent, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range intentNames {
		if name == s {
			return Intent(i), true
		}
	}
	return IntentCasual, false
}

// IntentClassification is the router's decision for one message.
type IntentClassification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}
