// Package model holds the plain value types of spec §3 — Test, Run,
// ScheduleEntry, RunHistory, QualitySnapshot, FailurePattern,
// AgentExecution — and the enumerated actions/statuses they carry.
// Relations are expressed by id reference only; no ORM entity graph or
// lazy relation lives here, per spec §9.
package model

import "time"

// StepAction is the closed set of recognized script step actions (§3, §4.E).
type StepAction string

const (
	ActionNavigate        StepAction = "NAVIGATE"
	ActionReload          StepAction = "RELOAD"
	ActionGoBack          StepAction = "GO_BACK"
	ActionClick           StepAction = "CLICK"
	ActionHover           StepAction = "HOVER"
	ActionFill            StepAction = "FILL"
	ActionClear           StepAction = "CLEAR"
	ActionSelectOption    StepAction = "SELECT_OPTION"
	ActionCheck           StepAction = "CHECK"
	ActionUncheck         StepAction = "UNCHECK"
	ActionPressKey        StepAction = "PRESS_KEY"
	ActionWaitForLoad     StepAction = "WAIT_FOR_LOAD"
	ActionWaitForSelector StepAction = "WAIT_FOR_SELECTOR"
	ActionWaitForURL      StepAction = "WAIT_FOR_URL"
	ActionAssertText      StepAction = "ASSERT_TEXT"
	ActionAssertVisible   StepAction = "ASSERT_VISIBLE"
	ActionAssertHidden    StepAction = "ASSERT_HIDDEN"
	ActionAssertURL       StepAction = "ASSERT_URL"
	ActionAssertTitle     StepAction = "ASSERT_TITLE"
	ActionAssertCount     StepAction = "ASSERT_COUNT"
	ActionAssertValue     StepAction = "ASSERT_VALUE"
	ActionAssertEnabled   StepAction = "ASSERT_ENABLED"
	ActionAssertDisabled  StepAction = "ASSERT_DISABLED"
)

// KnownActions is the closed set of step actions the orchestrator accepts.
// An action outside this set fails the run with category CONFIGURATION
// (§4.E).
var KnownActions = map[StepAction]bool{
	ActionNavigate: true, ActionReload: true, ActionGoBack: true,
	ActionClick: true, ActionHover: true, ActionFill: true, ActionClear: true,
	ActionSelectOption: true, ActionCheck: true, ActionUncheck: true,
	ActionPressKey: true, ActionWaitForLoad: true, ActionWaitForSelector: true,
	ActionWaitForURL: true, ActionAssertText: true, ActionAssertVisible: true,
	ActionAssertHidden: true, ActionAssertURL: true, ActionAssertTitle: true,
	ActionAssertCount: true, ActionAssertValue: true, ActionAssertEnabled: true,
	ActionAssertDisabled: true,
}

// assertionActions is the family the Classifier treats as assertion phase
// outcomes (§4.C).
var assertionActions = map[StepAction]bool{
	ActionAssertText: true, ActionAssertVisible: true, ActionAssertHidden: true,
	ActionAssertURL: true, ActionAssertTitle: true, ActionAssertCount: true,
	ActionAssertValue: true, ActionAssertEnabled: true, ActionAssertDisabled: true,
}

// IsAssertion reports whether action belongs to the assertion family.
func IsAssertion(action StepAction) bool { return assertionActions[action] }

// Step is one atomic action inside a Test's script payload.
type Step struct {
	Action    StepAction     `json:"action" validate:"required"`
	Locator   string         `json:"locator,omitempty" validate:"omitempty,max=512"`
	Value     string         `json:"value,omitempty" validate:"omitempty,max=4096"`
	TimeoutMs int            `json:"timeout_ms,omitempty" validate:"omitempty,min=0,max=300000"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Framework tags a Test's authoring framework (an opaque passthrough, not
// interpreted by the core beyond storage/display).
type Framework string

// BrowserKind is the closed set of browsers the Browser Driver Port may be
// asked to launch (§4.B).
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "CHROME"
	BrowserFirefox  BrowserKind = "FIREFOX"
	BrowserEdge     BrowserKind = "EDGE"
	BrowserChromium BrowserKind = "CHROMIUM"
	BrowserWebkit   BrowserKind = "WEBKIT"
)

// Test is a declarative UI test definition.
type Test struct {
	ID        string
	Name      string
	Framework Framework
	Script    []Step
	Active    bool
	Priority  int
	// NotificationPrefs is an opaque passthrough per §3 — the core never
	// interprets it, only stores and returns it.
	NotificationPrefs map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
