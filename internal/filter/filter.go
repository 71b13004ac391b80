// Package filter implements a declarative output filter: a set of regex
// include/exclude rules keyed by module-output key, applied to each
// module's contribution before merging.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/omron93/containerdiff/internal/containerdiff"
)

// Rule is one filtering directive, matching the shape of the filter
// config file's per-key values.
type Rule struct {
	Action string   `json:"action" yaml:"action"`
	Data   []string `json:"data" yaml:"data"`
	Keys   []string `json:"keys,omitempty" yaml:"keys,omitempty"`
}

// Config is the top-level filter config file: a mapping from ResultKey to
// the rule applied to that module's output.
type Config map[containerdiff.ResultKey]Rule

// Apply filters value according to rule, logging and returning value
// unchanged on any validation error.
func Apply(value interface{}, rule Rule, log logrus.FieldLogger) interface{} {
	if rule.Action != "include" && rule.Action != "exclude" {
		log.Error(`filter: wrong or missing "action" key in filter options`)
		return value
	}
	if len(rule.Data) == 0 {
		log.Error(`filter: wrong or missing "data" key in filter options`)
		return value
	}

	if len(rule.Keys) > 0 {
		return applyToKeys(value, rule, log)
	}
	return applyToList(value, rule, log)
}

func applyToKeys(value interface{}, rule Rule, log logrus.FieldLogger) interface{} {
	m, ok := value.(map[string]interface{})
	if !ok {
		log.Error(`filter: "keys" filter option specified but filtered data is not a map`)
		return value
	}

	subRule := Rule{Action: rule.Action, Data: rule.Data}
	for _, key := range rule.Keys {
		sub, present := m[key]
		if !present {
			log.Warn("filter: in filtered data there is no key " + key)
			// A missing key only skips that one key; it does not
			// abandon filtering the rest of the list.
			continue
		}
		m[key] = Apply(sub, subRule, log)
	}
	return m
}

func applyToList(value interface{}, rule Rule, log logrus.FieldLogger) interface{} {
	list, ok := value.([]interface{})
	if !ok {
		log.Error("filter: output of the module is not a list")
		return value
	}

	pattern, err := regexp.Compile(strings.Join(rule.Data, "|"))
	if err != nil {
		log.WithError(err).Error("filter: invalid regular expression in \"data\"")
		return value
	}

	filtered := make([]interface{}, 0, len(list))
	for _, item := range list {
		matched := pattern.MatchString(itemString(item))
		keep := (rule.Action == "include" && matched) || (rule.Action == "exclude" && !matched)
		if keep {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// itemString renders a list item (often itself a []interface{} tuple)
// as a string for regex matching.
func itemString(item interface{}) string {
	if tuple, ok := item.([]interface{}); ok {
		parts := make([]string, len(tuple))
		for i, p := range tuple {
			parts[i] = fmt.Sprint(p)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprint(item)
}
