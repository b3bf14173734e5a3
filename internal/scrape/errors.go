package scrape

import "errors"

// ErrNotFound is returned by stores when the requested entity does not
// exist.
var ErrNotFound = errors.New("not found")

// Sentinel failures a scrape run can end with. The scraper binary maps them
// to its exit codes; the supervisor maps exit codes back to user-facing
// messages.
var (
	// ErrSetup covers environment problems before extraction starts:
	// missing credentials, unreachable site, browser launch failure.
	ErrSetup = errors.New("scrape setup failed")

	// ErrAuthRejected means the journal refused the credentials.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrEmptyListing means login succeeded but the grades listing held no
	// usable report rows.
	ErrEmptyListing = errors.New("empty report listing")

	// ErrOrgMismatch means the account belongs to a different organization
	// than the school the job was created for.
	ErrOrgMismatch = errors.New("organization mismatch")
)

// ExitCodeFor maps the run error to the process exit contract.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrOrgMismatch):
		return ExitOrgMismatch
	case errors.Is(err, ErrAuthRejected):
		return ExitAuthRejected
	case errors.Is(err, ErrEmptyListing):
		return ExitEmptyListing
	default:
		return ExitSetupError
	}
}
