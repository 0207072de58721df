// Package correlation encodes the identifiers a build job carries as plain
// string tags, and recovers them from the tags echoed back in status events.
package correlation

import (
	"strings"
)

const (
	DeploymentIDPrefix = "deployment-id-"
	BuildIDPrefix      = "build-id-"
	OrgIDPrefix        = "org-id-"
	TargetPrefix       = "deployment-target-"
	KindPrefix         = "ty-"
)

// JobKind says which phases a submitted job performs.
type JobKind string

const (
	KindBuildDeploy JobKind = "build-deploy"
	KindBuild       JobKind = "build"
	KindDeploy      JobKind = "deploy"
)

// Tags is the set of identifiers attached to one external job.
type Tags struct {
	DeploymentID string
	BuildID      string
	OrgID        string
	Target       string
	Kind         JobKind
}

// Encode renders t as the tag list submitted with the job. Empty fields are
// omitted.
func Encode(t Tags) []string {
	out := make([]string, 0, 5)
	if t.DeploymentID != "" {
		out = append(out, DeploymentIDPrefix+t.DeploymentID)
	}
	if t.BuildID != "" {
		out = append(out, BuildIDPrefix+t.BuildID)
	}
	if t.OrgID != "" {
		out = append(out, OrgIDPrefix+t.OrgID)
	}
	if t.Target != "" {
		out = append(out, TargetPrefix+t.Target)
	}
	if t.Kind != "" {
		out = append(out, KindPrefix+string(t.Kind))
	}
	return out
}

// Decode recovers identifiers from a tag list. Unrelated tags are ignored and
// the first occurrence of each prefix wins. Only the prefix is stripped, so
// identifiers may themselves contain hyphens.
func Decode(tags []string) Tags {
	var t Tags
	for _, tag := range tags {
		switch {
		case t.DeploymentID == "" && strings.HasPrefix(tag, DeploymentIDPrefix):
			t.DeploymentID = strings.TrimPrefix(tag, DeploymentIDPrefix)
		case t.BuildID == "" && strings.HasPrefix(tag, BuildIDPrefix):
			t.BuildID = strings.TrimPrefix(tag, BuildIDPrefix)
		case t.OrgID == "" && strings.HasPrefix(tag, OrgIDPrefix):
			t.OrgID = strings.TrimPrefix(tag, OrgIDPrefix)
		case t.Target == "" && strings.HasPrefix(tag, TargetPrefix):
			t.Target = strings.TrimPrefix(tag, TargetPrefix)
		case t.Kind == "" && strings.HasPrefix(tag, KindPrefix):
			t.Kind = JobKind(strings.TrimPrefix(tag, KindPrefix))
		}
	}
	return t
}

// Complete reports whether the tags carry everything reconciliation needs.
func (t Tags) Complete() bool {
	return t.DeploymentID != "" && t.BuildID != "" && t.Kind != ""
}
