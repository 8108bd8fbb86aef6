package scheduler

import (
	"strings"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Rule maps any of its markers to a status.
type Rule struct {
	Status  jobstore.Status
	Markers []string
}

// TextRules is the status precedence for textual scheduler reports.
// The first rule with a marker present wins.
var TextRules = []Rule{
	{Status: jobstore.StatusDone, Markers: []string{"Done", "Finished"}},
	{Status: jobstore.StatusWaiting, Markers: []string{"Waiting", "Queuing"}},
	{Status: jobstore.StatusRunning, Markers: []string{"Running"}},
	{Status: jobstore.StatusFail, Markers: []string{"Failed"}},
}

// ClassifyText applies rules in order using case-sensitive substring
// matching. Text matching no rule is unknown.
func ClassifyText(text string, rules []Rule) jobstore.Status {
	for _, r := range rules {
		for _, m := range r.Markers {
			if strings.Contains(text, m) {
				return r.Status
			}
		}
	}
	return jobstore.StatusUnknown
}
