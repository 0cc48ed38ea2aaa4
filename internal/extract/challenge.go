package extract

import "strings"

// challengeMarkers identify bot walls and CAPTCHA interstitials. A bare
// "captcha" is not enough: contact forms routinely embed reCAPTCHA.
var challengeMarkers = []string{
	"cf-chl-",
	"/cdn-cgi/challenge-platform",
	"cf-browser-verification",
	"checking your browser before accessing",
	"attention required! | cloudflare",
	"verify you are a human",
	"are you a human",
	"are you human",
	"unusual traffic from your computer",
	"captcha-delivery.com",
	"px-captcha",
	"please complete the security check",
}

// IsChallenge reports whether content is a CAPTCHA or bot-challenge page.
func IsChallenge(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
