package browserdriver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-rod/rod"
)

// strategy is one of the locator prefixes spec §4.E recognizes.
type strategy string

const (
	strategyID     strategy = "id"
	strategyName   strategy = "name"
	strategyCSS    strategy = "css"
	strategyXPath  strategy = "xpath"
	strategyClass  strategy = "class"
	strategyText   strategy = "text"
	strategyRole   strategy = "role"
	strategyTestID strategy = "testid"
	strategyLabel  strategy = "label"
)

var prefixes = map[string]strategy{
	"id=":     strategyID,
	"name=":   strategyName,
	"css=":    strategyCSS,
	"xpath=":  strategyXPath,
	"class=":  strategyClass,
	"text=":   strategyText,
	"role=":   strategyRole,
	"testid=": strategyTestID,
	"label=":  strategyLabel,
}

// parseLocator strips a recognized strategy prefix from raw, defaulting to
// css when none is present.
func parseLocator(raw string) (strategy, string) {
	for prefix, s := range prefixes {
		if strings.HasPrefix(raw, prefix) {
			return s, strings.TrimPrefix(raw, prefix)
		}
	}
	return strategyCSS, raw
}

// resolveElement finds the element a locator names, translating the
// strategy into the go-rod API that expresses it.
func resolveElement(p *rod.Page, raw string) (*rod.Element, error) {
	s, value := parseLocator(raw)
	switch s {
	case strategyID:
		return p.Element("#" + value)
	case strategyName:
		return p.Element(fmt.Sprintf("[name=%q]", value))
	case strategyClass:
		return p.Element("." + value)
	case strategyTestID:
		return p.Element(fmt.Sprintf("[data-testid=%q]", value))
	case strategyRole:
		return p.Element(fmt.Sprintf("[role=%q]", value))
	case strategyLabel:
		return p.Element(fmt.Sprintf("[aria-label=%q]", value))
	case strategyXPath:
		return p.ElementX(value)
	case strategyText:
		return p.ElementR("*", regexp.QuoteMeta(value))
	default:
		return p.Element(value)
	}
}
