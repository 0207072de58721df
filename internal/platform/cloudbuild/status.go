package cloudbuild

import "github.com/riverly-dev/riverly/pkg/models"

// Build statuses reported by Cloud Build.
const (
	StatusUnknown       = "STATUS_UNKNOWN"
	StatusPending       = "PENDING"
	StatusQueued        = "QUEUED"
	StatusWorking       = "WORKING"
	StatusSuccess       = "SUCCESS"
	StatusFailure       = "FAILURE"
	StatusInternalError = "INTERNAL_ERROR"
	StatusTimeout       = "TIMEOUT"
	StatusCancelled     = "CANCELLED"
	StatusExpired       = "EXPIRED"
)

var statusMap = map[string]models.Status{
	StatusPending:       models.StatusPlaced,
	StatusQueued:        models.StatusPlaced,
	StatusWorking:       models.StatusRunning,
	StatusSuccess:       models.StatusReady,
	StatusFailure:       models.StatusError,
	StatusInternalError: models.StatusError,
	StatusTimeout:       models.StatusError,
	StatusCancelled:     models.StatusAborted,
	StatusExpired:       models.StatusAborted,
}

var terminalStatuses = map[string]bool{
	StatusSuccess:       true,
	StatusFailure:       true,
	StatusInternalError: true,
	StatusTimeout:       true,
	StatusCancelled:     true,
	StatusExpired:       true,
}

// MapStatus translates a Cloud Build status to a deployment status.
// Unrecognised values, including STATUS_UNKNOWN, map to models.StatusUnknown.
func MapStatus(external string) models.Status {
	if s, ok := statusMap[external]; ok {
		return s
	}
	return models.StatusUnknown
}

// IsTerminalStatus reports whether Cloud Build will send no further updates
// after external.
func IsTerminalStatus(external string) bool {
	return terminalStatuses[external]
}
