package correlation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tags := Encode(Tags{
		DeploymentID: "d1",
		BuildID:      "b1",
		OrgID:        "org_1",
		Target:       "preview",
		Kind:         KindBuildDeploy,
	})
	assert.Equal(t, []string{
		"deployment-id-d1",
		"build-id-b1",
		"org-id-org_1",
		"deployment-target-preview",
		"ty-build-deploy",
	}, tags)
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	assert.Equal(t, []string{"build-id-b1"}, Encode(Tags{BuildID: "b1"}))
}

func TestRoundTrip(t *testing.T) {
	ids := []struct {
		deploymentID string
		buildID      string
	}{
		{"d1", "b1"},
		{uuid.NewString(), uuid.NewString()},
		{"dep-with-many-hyphens-", "-leading-hyphen"},
		{"deployment-id-nested", "build-id-nested"},
		{"target-x", "ty-build"},
		{"a", "b"},
	}
	for _, tt := range ids {
		t.Run(tt.deploymentID+"/"+tt.buildID, func(t *testing.T) {
			in := Tags{
				DeploymentID: tt.deploymentID,
				BuildID:      tt.buildID,
				OrgID:        "org-with-hyphen",
				Target:       "production",
				Kind:         KindBuildDeploy,
			}
			out := Decode(Encode(in))
			require.True(t, out.Complete())
			assert.Equal(t, in, out)
		})
	}
}

func TestDecodeIgnoresForeignTags(t *testing.T) {
	out := Decode([]string{"trigger-abc", "deployment-id-d1", "region-us", "build-id-b1", "ty-build-deploy"})
	assert.Equal(t, Tags{DeploymentID: "d1", BuildID: "b1", Kind: KindBuildDeploy}, out)
}

func TestDecodeFirstOccurrenceWins(t *testing.T) {
	out := Decode([]string{"deployment-id-first", "deployment-id-second"})
	assert.Equal(t, "first", out.DeploymentID)
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want bool
	}{
		{"all present", []string{"deployment-id-d", "build-id-b", "ty-build-deploy"}, true},
		{"missing deployment", []string{"build-id-b", "ty-build-deploy"}, false},
		{"missing build", []string{"deployment-id-d", "ty-build-deploy"}, false},
		{"missing kind", []string{"deployment-id-d", "build-id-b", "org-id-o"}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.tags).Complete())
		})
	}
}
