// Package testing provides test utilities for the deployment service.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/pkg/models"
	"github.com/riverly-dev/riverly/pkg/platform/database"
)

// FakeDeploymentService is a configurable fake implementation of
// service.DeploymentService for testing. It supports data-driven setup via
// struct fields and function hooks for custom behavior.
type FakeDeploymentService struct {
	mu sync.Mutex

	// Data fields for simple data-driven tests
	Details     map[string]*models.DeploymentDetail
	Stale       []*models.Deployment
	Triggered   []service.TriggerRequest
	StatusCalls map[string]models.Status

	// Function hooks for custom behavior (take precedence over data fields when set)
	TriggerDeploymentFn    func(ctx context.Context, req service.TriggerRequest) (*service.TriggerResult, error)
	GetDeploymentFn        func(ctx context.Context, orgID, deploymentID string) (*models.DeploymentDetail, error)
	ListStaleDeploymentsFn func(ctx context.Context, orgID *string, olderThan time.Duration) ([]*models.Deployment, error)
	SetBuildStatusFn       func(ctx context.Context, buildID string, status models.Status) error
}

var _ service.DeploymentService = (*FakeDeploymentService)(nil)

// NewFakeDeploymentService creates a new FakeDeploymentService with initialized maps.
func NewFakeDeploymentService() *FakeDeploymentService {
	return &FakeDeploymentService{
		Details:     make(map[string]*models.DeploymentDetail),
		StatusCalls: make(map[string]models.Status),
	}
}

func (f *FakeDeploymentService) TriggerDeployment(ctx context.Context, req service.TriggerRequest) (*service.TriggerResult, error) {
	f.mu.Lock()
	f.Triggered = append(f.Triggered, req)
	f.mu.Unlock()
	if f.TriggerDeploymentFn != nil {
		return f.TriggerDeploymentFn(ctx, req)
	}
	return &service.TriggerResult{DeploymentID: "d1", BuildID: "b1", RevisionID: "r1"}, nil
}

func (f *FakeDeploymentService) GetDeployment(ctx context.Context, orgID, deploymentID string) (*models.DeploymentDetail, error) {
	if f.GetDeploymentFn != nil {
		return f.GetDeploymentFn(ctx, orgID, deploymentID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Details[deploymentID]
	if !ok || (orgID != "" && d.Deployment.OrganizationID != orgID) {
		return nil, database.ErrNotFound
	}
	return d, nil
}

func (f *FakeDeploymentService) ListStaleDeployments(ctx context.Context, orgID *string, olderThan time.Duration) ([]*models.Deployment, error) {
	if f.ListStaleDeploymentsFn != nil {
		return f.ListStaleDeploymentsFn(ctx, orgID, olderThan)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Deployment
	for _, d := range f.Stale {
		if orgID == nil || d.OrganizationID == *orgID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *FakeDeploymentService) SetBuildStatus(ctx context.Context, buildID string, status models.Status) error {
	if f.SetBuildStatusFn != nil {
		return f.SetBuildStatusFn(ctx, buildID, status)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls[buildID] = status
	return nil
}
