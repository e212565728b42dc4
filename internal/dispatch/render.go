package dispatch

import (
	"encoding/json"
	"regexp"
	"strings"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// renderTemplate substitutes {{variable}} patterns. Unknown variables
// are left intact so a typo is visible in the delivered mail instead of
// silently vanishing.
func renderTemplate(template string, vars map[string]string) string {
	if template == "" {
		return template
	}

	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		varName := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[varName]; ok {
			return value
		}
		return match
	})
}

// mergeVariables merges variable maps with priority: recipient > campaign
func mergeVariables(campaignJSON, recipientJSON string) map[string]string {
	result := make(map[string]string)

	if campaignJSON != "" {
		var campaignVars map[string]string
		if err := json.Unmarshal([]byte(campaignJSON), &campaignVars); err == nil {
			for k, v := range campaignVars {
				result[k] = v
			}
		}
	}

	if recipientJSON != "" {
		var recipientVars map[string]string
		if err := json.Unmarshal([]byte(recipientJSON), &recipientVars); err == nil {
			for k, v := range recipientVars {
				result[k] = v
			}
		}
	}

	return result
}
