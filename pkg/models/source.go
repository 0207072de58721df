package models

import "regexp"

var (
	githubLoginRe = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)
	githubRepoRe  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
	commitHashRe  = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
	gcsURIRe      = regexp.MustCompile(`^gs://[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]/[A-Za-z0-9._/-]{1,1024}$`)
)

// ValidGitHubLogin reports whether s is a GitHub user or organization login.
func ValidGitHubLogin(s string) bool {
	return githubLoginRe.MatchString(s)
}

// ValidGitHubRepo reports whether s is a GitHub repository name. The dot
// entries are excluded.
func ValidGitHubRepo(s string) bool {
	return s != "." && s != ".." && githubRepoRe.MatchString(s)
}

// ValidCommitHash reports whether s is a full or abbreviated commit SHA.
func ValidCommitHash(s string) bool {
	return commitHashRe.MatchString(s)
}

// ValidArtifactURI reports whether s is a gs:// object URI without shell or
// URL metacharacters.
func ValidArtifactURI(s string) bool {
	return gcsURIRe.MatchString(s)
}
