package browser

import (
	"context"
	"log"
	"strings"
)

var blockTriggers = []string{
	"Request unsuccessful. Incapsula",
	"Incapsula incident ID",
	"Access Denied",
	"This request was blocked",
	"Pardon Our Interruption",
	"Checking your browser before accessing",
}

// ConsentSelectors are tried in order by DismissConsent.
var ConsentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#didomi-notice-agree-button",
	"button[id*='accept']",
	"button[class*='accept']",
	"button[class*='consent']",
	"button:has-text('Accept All')",
	"button:has-text('I Accept')",
	"button:has-text('Accept')",
}

var challengeSelectors = []string{
	"iframe#main-iframe",
	"[id*='checkbox']",
	"input[type='checkbox']",
	"button:has-text('Verify')",
	"button:has-text('Continue')",
}

// DetectBlock returns the bot-wall trigger found in content, or "". Pages that
// also contain any of the expected markers are treated as unblocked.
func DetectBlock(content string, expected ...string) string {
	for _, m := range expected {
		if m != "" && strings.Contains(content, m) {
			return ""
		}
	}
	for _, t := range blockTriggers {
		if strings.Contains(content, t) {
			return t
		}
	}
	return ""
}

// DismissConsent clicks the first visible consent button, if any.
func DismissConsent(ctx context.Context, d Driver) bool {
	for _, sel := range ConsentSelectors {
		if d.Exists(ctx, sel) && d.Click(ctx, sel) {
			log.Printf("Clicked consent button: %s", sel)
			d.Delay(ctx)
			return true
		}
	}
	return false
}

// PassChallenge makes one attempt at an interstitial challenge and reports
// whether the page is clear afterwards.
func PassChallenge(ctx context.Context, d Driver, expected ...string) bool {
	content, ok := d.Content(ctx)
	if !ok {
		return false
	}
	trigger := DetectBlock(content, expected...)
	if trigger == "" {
		return true
	}
	log.Printf("Handling bot challenge (trigger: %s)...", trigger)

	for _, sel := range challengeSelectors {
		if d.Exists(ctx, sel) && d.Click(ctx, sel) {
			log.Printf("Clicked challenge element: %s", sel)
			break
		}
	}
	d.Delay(ctx)

	content, ok = d.Content(ctx)
	return ok && DetectBlock(content, expected...) == ""
}
