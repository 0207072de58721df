package cloudbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riverly-dev/riverly/pkg/models"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		external string
		want     models.Status
		terminal bool
	}{
		{StatusUnknown, models.StatusUnknown, false},
		{StatusPending, models.StatusPlaced, false},
		{StatusQueued, models.StatusPlaced, false},
		{StatusWorking, models.StatusRunning, false},
		{StatusSuccess, models.StatusReady, true},
		{StatusFailure, models.StatusError, true},
		{StatusInternalError, models.StatusError, true},
		{StatusTimeout, models.StatusError, true},
		{StatusCancelled, models.StatusAborted, true},
		{StatusExpired, models.StatusAborted, true},
		{"", models.StatusUnknown, false},
		{"success", models.StatusUnknown, false},
		{"SOMETHING_NEW", models.StatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.external, func(t *testing.T) {
			assert.Equal(t, tt.want, MapStatus(tt.external))
			assert.Equal(t, tt.terminal, IsTerminalStatus(tt.external))
		})
	}
}

func TestTerminalExternalStatusesMapToTerminalStatuses(t *testing.T) {
	for external := range terminalStatuses {
		assert.True(t, MapStatus(external).IsTerminal(), external)
	}
	for external, mapped := range statusMap {
		if !terminalStatuses[external] {
			assert.False(t, mapped.IsTerminal(), external)
		}
	}
}
