package checkin

import (
	"fmt"
	"regexp"
	"strings"
)

// Marker phrases the check-in site renders. Both English and Chinese
// variants appear depending on the viewer's locale.
var (
	alreadyMarkers = []string{
		"already checked in", "今日已签到", "checked in today",
		"attendance recorded", "已完成签到", "completed today",
	}

	checkinPageMarkers = []string{
		"check-in", "checkin", "签到", "attendance", "daily",
	}

	successMarkers = []string{
		"check-in successful", "checkin successful", "签到成功",
		"attendance recorded", "earned reward", "获得奖励",
		"success", "成功", "completed",
	}

	loggedInMarkers = []string{
		"dashboard", "profile", "user", "logout", "welcome",
	}
)

var csrfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)name=["']_token["'][^>]*value=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)name=["']csrf_token["'][^>]*value=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta[^>]*name=["']csrf-token["'][^>]*content=["']([^"']+)["']`),
}

var rewardPatterns = []*regexp.Regexp{
	regexp.MustCompile(`获得奖励[^\d]*(\d+\.?\d*)\s*元`),
	regexp.MustCompile(`(?i)earned.*?(\d+\.?\d*)\s*(credits?|points?)`),
	regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(credits?|points?|元)`),
}

func containsAny(body string, markers []string) bool {
	lower := strings.ToLower(body)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// alreadyCheckedIn reports whether the page says today's check-in is done.
// The endpoint treats a repeat visit as a no-op, so this counts as success.
func alreadyCheckedIn(body string) bool {
	return containsAny(body, alreadyMarkers)
}

// isCheckinPage reports whether the page carries a check-in form at all.
func isCheckinPage(body string) bool {
	return containsAny(body, checkinPageMarkers)
}

// looksAuthenticated reports whether the page is served to a logged-in
// session rather than a login form.
func looksAuthenticated(body string) bool {
	return containsAny(body, loggedInMarkers)
}

// extractCSRFToken pulls the anti-forgery token out of the form markup.
// Returns "" when the page carries none.
func extractCSRFToken(body string) string {
	for _, p := range csrfPatterns {
		if m := p.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}

// classifyResponse decides whether a check-in response body reports success
// and builds the human-readable detail, including any extracted reward.
func classifyResponse(body string) (bool, string) {
	if !containsAny(body, successMarkers) {
		return false, "check-in response indicates failure"
	}
	for _, p := range rewardPatterns {
		if m := p.FindStringSubmatch(body); m != nil {
			return true, fmt.Sprintf("check-in successful, earned %s credits", m[1])
		}
	}
	return true, "check-in successful"
}

// summarize truncates a response body for the history record.
func summarize(body string) string {
	const maxSummary = 200
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > maxSummary {
		return body[:maxSummary]
	}
	return body
}
