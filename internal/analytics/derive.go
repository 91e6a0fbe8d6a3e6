// Package analytics derives human-readable people summaries from
// per-person detail records. All functions are pure.
package analytics

import (
	"fmt"
	"strings"

	"github.com/pastukhov/yaic/internal/types"
)

// Summaries holds the derived aggregate strings for one detail set.
type Summaries struct {
	Age         string
	Gender      string
	Role        string
	Description string
}

// Derive computes count-based summaries over the detail records.
// Grouping order is first-seen order of distinct values, so repeated
// calls over the same input yield identical strings. An empty input
// yields empty summaries.
func Derive(details []types.PersonDetail) Summaries {
	if len(details) == 0 {
		return Summaries{}
	}

	return Summaries{
		Age:         countSummary(details, func(d types.PersonDetail) string { return d.AgeGroup }),
		Gender:      countSummary(details, func(d types.PersonDetail) string { return d.Gender }),
		Role:        roleSummary(details),
		Description: describe(len(details)),
	}
}

// countSummary renders "2 adults, 1 child" style aggregates, skipping
// unknown values. All-unknown input degrades to the sentinel.
func countSummary(details []types.PersonDetail, field func(types.PersonDetail) string) string {
	order := make([]string, 0, len(details))
	counts := make(map[string]int, len(details))

	for _, d := range details {
		v := field(d)
		if v == types.Unknown || v == "" {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	if len(order) == 0 {
		return types.Unknown
	}

	parts := make([]string, 0, len(order))
	for _, v := range order {
		label := strings.ReplaceAll(v, "_", " ")
		suffix := ""
		if counts[v] != 1 {
			suffix = "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s%s", counts[v], label, suffix))
	}
	return strings.Join(parts, ", ")
}

// roleSummary lists distinct roles in first-seen order, sentinel
// included so a mixed known/unknown set stays honest about coverage.
func roleSummary(details []types.PersonDetail) string {
	order := make([]string, 0, len(details))
	seen := make(map[string]bool, len(details))

	for _, d := range details {
		role := d.Role
		if role == "" {
			role = types.Unknown
		}
		if !seen[role] {
			seen[role] = true
			order = append(order, role)
		}
	}

	if len(order) == 0 {
		return types.Unknown
	}
	return strings.Join(order, ", ")
}

var countWords = []string{
	"", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
}

// describe renders a short natural-language count ("two people").
func describe(count int) string {
	noun := "people"
	if count == 1 {
		noun = "person"
	}
	if count >= 1 && count < len(countWords) {
		return fmt.Sprintf("%s %s", countWords[count], noun)
	}
	return fmt.Sprintf("%d %s", count, noun)
}
