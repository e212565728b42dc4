// Package segment decides audience membership and pages a tenant's
// recipients in restart-safe cursor order.
package segment

import "github.com/mailtide/mailtide/internal/models"

// Matches reports whether a recipient belongs to the segment rule. It is
// a pure function: status filtering for "all" segments happens upstream
// in the pager's query.
//
// An unknown or malformed rule type matches nothing. Defaulting to "all"
// here would silently broaden the audience of a typoed rule, so the
// evaluator fails closed.
func Matches(rule models.SegmentRule, recipient *models.Recipient) bool {
	switch rule.Type {
	case models.RuleAll:
		return true
	case models.RuleTagsAny:
		if len(rule.Tags) == 0 {
			return false
		}
		tags := tagSet(recipient.TagList())
		for _, want := range rule.Tags {
			if tags[want] {
				return true
			}
		}
		return false
	case models.RuleTagsAll:
		// An empty tag list matches nothing, not everything.
		if len(rule.Tags) == 0 {
			return false
		}
		tags := tagSet(recipient.TagList())
		for _, want := range rule.Tags {
			if !tags[want] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}
