package scraper

import "errors"

var (
	ErrNotBound           = errors.New("browser session not started")
	ErrMissingCredentials = errors.New("no credentials configured")
	ErrLoginFailed        = errors.New("login failed")
	ErrSearchFailed       = errors.New("search failed")
	ErrErrorBudget        = errors.New("page error budget exhausted")
	ErrInterrupted        = errors.New("interrupted")
)
