// Package naming derives registry image paths and runtime service names from
// platform identifiers. Every function is deterministic.
package naming

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/stoewer/go-strcase"
)

// MaxServiceNameLength is the runtime's limit on service identifiers.
const MaxServiceNameLength = 63

var ErrEmptyIdentifier = errors.New("identifier must not be empty")

// ImagePath returns the Artifact Registry reference for a build:
//
//	<region>-docker.pkg.dev/<project>/<org>/<server>:<build>
//
// All segments are lower-cased so the same inputs always yield the same path.
func ImagePath(region, projectNamespace, orgID, serverID, buildID string) (string, error) {
	segments := []struct{ field, value string }{
		{"region", region},
		{"project", projectNamespace},
		{"org", orgID},
		{"server", serverID},
		{"build", buildID},
	}
	for _, s := range segments {
		if strings.TrimSpace(s.value) == "" {
			return "", fmt.Errorf("%s: %w", s.field, ErrEmptyIdentifier)
		}
	}

	path := fmt.Sprintf("%s-docker.pkg.dev/%s/%s/%s:%s",
		strings.ToLower(region),
		strings.ToLower(projectNamespace),
		strings.ToLower(orgID),
		strings.ToLower(serverID),
		strings.ToLower(buildID),
	)
	if _, err := name.NewTag(path, name.StrictValidation); err != nil {
		return "", fmt.Errorf("invalid image path %q: %w", path, err)
	}
	return path, nil
}

// ServiceName returns the runtime service name for a deployment. The result
// is lower-case kebab, starts with a letter, is at most 63 characters long
// and never ends in a separator.
func ServiceName(deploymentID string) (string, error) {
	if strings.TrimSpace(deploymentID) == "" {
		return "", ErrEmptyIdentifier
	}

	kebab := strcase.KebabCase(deploymentID)
	var b strings.Builder
	for _, r := range strings.ToLower(kebab) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	svc := b.String()
	if svc == "" || svc[0] < 'a' || svc[0] > 'z' {
		svc = "srv-" + svc
	}
	if len(svc) > MaxServiceNameLength {
		svc = svc[:MaxServiceNameLength]
	}
	svc = strings.TrimRight(svc, "-")
	if svc == "srv" {
		return "", fmt.Errorf("deployment id %q has no usable characters", deploymentID)
	}
	return svc, nil
}
