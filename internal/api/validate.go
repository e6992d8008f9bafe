package api

import (
	"fmt"

	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/r3e-network/qa-automation-core/internal/apperrors"
	"github.com/r3e-network/qa-automation-core/internal/model"
)

var validate = validatorpkg.New()

// locatorRequired is the subset of §4.E's closed action set that targets a
// specific element and so must carry a non-empty Locator.
var locatorRequired = map[model.StepAction]bool{
	model.ActionClick:           true,
	model.ActionHover:           true,
	model.ActionFill:            true,
	model.ActionClear:           true,
	model.ActionSelectOption:    true,
	model.ActionCheck:           true,
	model.ActionUncheck:         true,
	model.ActionWaitForSelector: true,
	model.ActionAssertText:      true,
	model.ActionAssertVisible:   true,
	model.ActionAssertHidden:    true,
	model.ActionAssertCount:     true,
	model.ActionAssertValue:     true,
	model.ActionAssertEnabled:   true,
	model.ActionAssertDisabled:  true,
}

// valueRequired is the subset requiring a non-empty Value operand.
var valueRequired = map[model.StepAction]bool{
	model.ActionNavigate:     true,
	model.ActionFill:         true,
	model.ActionSelectOption: true,
	model.ActionPressKey:     true,
	model.ActionWaitForURL:   true,
	model.ActionAssertURL:    true,
	model.ActionAssertTitle:  true,
	model.ActionAssertValue:  true,
}

// ValidateScript checks a Test's script payload against §4.E's closed
// action set and each action's required operands, returning a VALIDATION
// ServiceError naming the offending step on the first failure.
func ValidateScript(script []model.Step) error {
	if len(script) == 0 {
		return apperrors.NewValidation("script must contain at least one step")
	}
	for i, step := range script {
		if !model.KnownActions[step.Action] {
			return apperrors.NewValidation(fmt.Sprintf("step %d: unrecognized action %q", i, step.Action)).
				WithDetails("step_index", i).WithDetails("action", step.Action)
		}
		if locatorRequired[step.Action] && step.Locator == "" {
			return apperrors.NewValidation(fmt.Sprintf("step %d: action %s requires a locator", i, step.Action)).
				WithDetails("step_index", i)
		}
		if valueRequired[step.Action] && step.Value == "" {
			return apperrors.NewValidation(fmt.Sprintf("step %d: action %s requires a value", i, step.Action)).
				WithDetails("step_index", i)
		}
		if err := validate.Struct(step); err != nil {
			return apperrors.Wrap(apperrors.Validation, fmt.Sprintf("step %d failed validation", i), err)
		}
	}
	return nil
}
