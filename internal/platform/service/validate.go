package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/riverly-dev/riverly/pkg/models"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	for tag, check := range map[string]func(string) bool{
		"github_login": models.ValidGitHubLogin,
		"github_repo":  models.ValidGitHubRepo,
		"gcs_uri":      models.ValidArtifactURI,
	} {
		// Registration only fails on an empty tag.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		})
	}
	return v
}

// sourceCount reports how many source kinds the caller supplied.
func sourceCount(s TriggerSource) int {
	n := 0
	if s.Repo != nil {
		n++
	}
	if s.Artifact != nil {
		n++
	}
	if s.RevisionID != nil {
		n++
	}
	return n
}

// validateRequest checks the request shape before anything is read or
// written.
func (s *deploymentServiceImpl) validateRequest(req *TriggerRequest) error {
	if n := sourceCount(req.Source); n != 1 {
		return newError(CodeValidation, fmt.Sprintf("exactly one of repo, artifact or revisionId is required, got %d", n), nil)
	}
	if err := s.validate.Struct(req); err != nil {
		return newError(CodeValidation, "invalid deploy request", err)
	}
	switch {
	case req.Source.Repo != nil:
		if err := s.validate.Struct(req.Source.Repo); err != nil {
			return newError(CodeValidation, "repo requires a valid owner, repo name, ref and commitHash", err)
		}
	case req.Source.Artifact != nil:
		if err := s.validate.Struct(req.Source.Artifact); err != nil {
			return newError(CodeValidation, "artifact uri must be a gs:// object path", err)
		}
	case req.Source.RevisionID != nil:
		if *req.Source.RevisionID == "" {
			return newError(CodeValidation, "revisionId must not be empty", nil)
		}
	}
	if req.Config != nil {
		if err := s.validate.Var(req.Config.Envs, "dive"); err != nil {
			return newError(CodeValidation, "invalid config envs", err)
		}
	}
	return nil
}

type hashedConfig struct {
	Envs    []models.EnvVar   `json:"envs"`
	Inputs  map[string]string `json:"inputs"`
	RootDir string            `json:"rootDir"`
}

// ConfigHash is the hex SHA-256 of the canonical JSON of a config's envs,
// inputs and root directory. Map keys are encoded in sorted order.
func ConfigHash(envs []models.EnvVar, inputs map[string]string, rootDir string) string {
	if envs == nil {
		envs = []models.EnvVar{}
	}
	if inputs == nil {
		inputs = map[string]string{}
	}
	b, _ := json.Marshal(hashedConfig{Envs: envs, Inputs: inputs, RootDir: rootDir})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
