// Package classifier implements the Failure Classifier (spec §4.C): a pure,
// deterministic function mapping a driver-reported failure to a
// FailureCategory and a retryability verdict. No I/O, no shared state — the
// Retry Engine and Orchestrator call it synchronously on the failing
// goroutine.
package classifier

import (
	"strings"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// Phase names the step-execution phase a failure occurred in.
type Phase string

const (
	PhaseAction    Phase = "ACTION"
	PhaseAssertion Phase = "ASSERTION"
	PhaseSetup     Phase = "SETUP"
)

// Verdict is the Classifier's output (§4.C).
type Verdict struct {
	Category  model.FailureCategory
	Retryable bool
	Hint      string
}

// assertion-family exception kinds recognized when phase == ASSERTION.
var assertionExceptionKinds = map[string]bool{
	"assertion_error": true, "assertionerror": true, "expectationfailed": true,
}

// exceptionKindCategory is the first classification rule: an exact
// exception-kind match (e.g. the driver's own timeout exception type).
var exceptionKindCategory = map[string]model.FailureCategory{
	"timeout_error":              model.CategoryTimeout,
	"timeouterror":                model.CategoryTimeout,
	"navigation_timeout":         model.CategoryTimeout,
	"element_not_found":          model.CategoryElementNotFound,
	"no_such_element":            model.CategoryElementNotFound,
	"stale_element_reference":    model.CategoryStaleElement,
	"stale_element":              model.CategoryStaleElement,
	"element_not_interactable":   model.CategoryElementNotInteractable,
	"element_click_intercepted":  model.CategoryElementNotInteractable,
	"invalid_selector":           model.CategoryInvalidSelector,
	"invalid_selector_error":     model.CategoryInvalidSelector,
	"network_error":              model.CategoryNetworkError,
	"connection_refused":         model.CategoryNetworkError,
	"dns_error":                  model.CategoryNetworkError,
	"configuration_error":        model.CategoryConfiguration,
	"driver_launch_error":        model.CategoryConfiguration,
	"script_parse_error":         model.CategoryConfiguration,
}

// messageSubstringRules is the second classification rule: a
// substring-in-message match, checked in listed order (first match wins)
// when the exception kind itself wasn't recognized.
var messageSubstringRules = []struct {
	substr   string
	category model.FailureCategory
}{
	{"net::err_", model.CategoryNetworkError},
	{"connection reset", model.CategoryNetworkError},
	{"connection refused", model.CategoryNetworkError},
	{"name not resolved", model.CategoryNetworkError},
	{"stale element", model.CategoryStaleElement},
	{"node is detached", model.CategoryStaleElement},
	{"not clickable", model.CategoryElementNotInteractable},
	{"intercepts pointer events", model.CategoryElementNotInteractable},
	{"no node found for selector", model.CategoryElementNotFound},
	{"waiting for selector", model.CategoryTimeout},
	{"timeout exceeded", model.CategoryTimeout},
	{"invalid selector", model.CategoryInvalidSelector},
}

// Classify maps (exceptionKind, message, phase, attempt) to a Verdict,
// applying the rules of §4.C in order: exact exception-kind match, then
// message-substring match, then phase+exception-family, then UNKNOWN.
func Classify(exceptionKind, message string, phase Phase, attempt int) Verdict {
	kind := strings.ToLower(strings.TrimSpace(exceptionKind))
	msg := strings.ToLower(message)

	if category, ok := exceptionKindCategory[kind]; ok {
		return verdictFor(category, hintFor(category))
	}

	for _, rule := range messageSubstringRules {
		if strings.Contains(msg, rule.substr) {
			return verdictFor(rule.category, hintFor(rule.category))
		}
	}

	if phase == PhaseAssertion && assertionExceptionKinds[kind] {
		return verdictFor(model.CategoryAssertionFailed, "assertion did not hold")
	}

	return verdictFor(model.CategoryUnknown, "no classification rule matched")
}

func verdictFor(category model.FailureCategory, hint string) Verdict {
	return Verdict{Category: category, Retryable: category.Retryable(), Hint: hint}
}

func hintFor(category model.FailureCategory) string {
	switch category {
	case model.CategoryTimeout:
		return "the step did not complete within its timeout"
	case model.CategoryElementNotFound:
		return "locator did not resolve to any element"
	case model.CategoryStaleElement:
		return "element reference was invalidated by a DOM mutation"
	case model.CategoryElementNotInteractable:
		return "element exists but is not interactable"
	case model.CategoryInvalidSelector:
		return "locator syntax is invalid"
	case model.CategoryNetworkError:
		return "underlying network request failed"
	case model.CategoryConfiguration:
		return "driver or script configuration is invalid"
	default:
		return ""
	}
}
