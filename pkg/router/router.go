// Package router classifies a free-form prompt into a task category.
package router

import "strings"

// Task categories.
const (
	TaskLint      = "lint"
	TaskExplain   = "explain"
	TaskCreate    = "create"
	TaskArchitect = "architect"
	TaskDebug     = "debug"
)

// rules are checked in order; the first keyword hit wins.
var rules = []struct {
	task     string
	keywords []string
}{
	{TaskLint, []string{"lint", "format"}},
	{TaskExplain, []string{"explain", "what"}},
	{TaskCreate, []string{"create", "build"}},
	{TaskArchitect, []string{"architect", "design"}},
}

// DetectTaskType returns the category for prompt, TaskDebug when no
// keyword matches. Matching is case-insensitive substring search.
func DetectTaskType(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.task
			}
		}
	}
	return TaskDebug
}
