package filter

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestIncludeExcludeDuality(t *testing.T) {
	// Property #9: include(L,R) ∪ exclude(L,R) = L and they're disjoint.
	list := []interface{}{"/etc/hosts", "/var/log/a", "/etc/passwd", "/tmp/x"}
	rule := Rule{Data: []string{"^/etc/"}}

	log := logrus.New()
	included := Apply(append([]interface{}{}, list...), Rule{Action: "include", Data: rule.Data}, log).([]interface{})
	excluded := Apply(append([]interface{}{}, list...), Rule{Action: "exclude", Data: rule.Data}, log).([]interface{})

	require.Equal(t, len(list), len(included)+len(excluded))

	seen := map[interface{}]bool{}
	for _, v := range included {
		seen[v] = true
	}
	for _, v := range excluded {
		require.False(t, seen[v], "item %v present in both include and exclude", v)
	}
}

func TestFilterUnchangedOnInvalidAction(t *testing.T) {
	// Property #10: an unrecognized action returns the value unchanged
	// and logs an error.
	list := []interface{}{"a", "b"}
	hook := &captureHook{}
	log := logrus.New()
	log.AddHook(hook)

	result := Apply(list, Rule{Action: "foo", Data: []string{".*"}}, log)

	require.Equal(t, list, result)
	require.NotEmpty(t, hook.entries)
	require.Equal(t, logrus.ErrorLevel, hook.entries[0].Level)
}

type captureHook struct {
	entries []*logrus.Entry
}

func (h *captureHook) Levels() []logrus.Level { return logrus.AllLevels }
func (h *captureHook) Fire(e *logrus.Entry) error {
	h.entries = append(h.entries, e)
	return nil
}
