package agent

import (
	"fmt"

	"github.com/neoclaw-ai/vulnagent/internal/config"
)

const (
	defaultSystemPrompt = `You are a vulnerability analyst. Your job is to query the vulnerability record database and report what it contains.

When a user asks about vulnerabilities:
1. Use the available tools to query the database immediately.
2. Present the results clearly.
3. Highlight severity, CVSS score, exploit status, and CISA KEV status.

Query first, explain later. Accept any identifier format the user provides. Answer only from tool results; if a tool reports an error, adjust the arguments or pick another tool.`

	conciseSystemPrompt = `You are a vulnerability analyst. Query the database using the available tools and present the results in a short list, one line per record.`

	detailedSystemPrompt = `You are a senior vulnerability analyst writing for an incident response team.

Query the database with the available tools, then for every record report the identifier, title, severity, CVSS score, affected products, attack type, exploit status, and KEV status. Close with a short assessment of which records need attention first and why. Answer only from tool results.`

	analyticsSystemPrompt = `You are a vulnerability data analyst.

Prefer aggregate tools such as statistics before listing individual records. Report counts, distributions by severity, average scores, and notable outliers. Use tables where they help. Answer only from tool results.`
)

// SystemPrompt returns the system message for a behavior profile.
func SystemPrompt(profile string) (string, error) {
	switch profile {
	case "", config.ProfileDefault:
		return defaultSystemPrompt, nil
	case config.ProfileConcise:
		return conciseSystemPrompt, nil
	case config.ProfileDetailed:
		return detailedSystemPrompt, nil
	case config.ProfileAnalytics:
		return analyticsSystemPrompt, nil
	default:
		return "", fmt.Errorf("unknown behavior profile %q", profile)
	}
}

// exhaustedAnswer is the synthesized answer when the iteration budget runs out.
func exhaustedAnswer(maxIterations int, results int) string {
	return fmt.Sprintf(
		"Max iterations reached without completing the query. The iteration budget of %d tool round trips was exhausted after %d tool results; the answer may be incomplete.",
		maxIterations, results,
	)
}
