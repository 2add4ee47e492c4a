// Package provision creates and destroys the EC2 resources a load-testing
// run needs, and tracks everything it launched so teardown can release it on
// every exit path.
package provision

import (
	"context"
	"errors"

	"github.com/OldStager01/vm-scaling/pkg/models"
)

var (
	ErrProvisionFailed = errors.New("instance provisioning failed")
	ErrTerminateFailed = errors.New("instance termination failed")
	ErrNoInstance      = errors.New("no instance in provisioning response")
)

// Tag applied to every resource this tool creates; teardown of the
// auto-scaling exercise also selects leftover instances by it.
const (
	ProjectTagKey   = "Project"
	ProjectTagValue = "vm-scaling"
)

// Provisioner creates and destroys compute instances.
type Provisioner interface {
	// Create launches one instance from the given image, blocks until it is
	// running, and returns it with whatever public address it came up with.
	// The address may be empty; callers decide whether that is fatal. When a
	// failure happens after the instance was launched, the returned worker is
	// non-nil alongside the error: it carries the instance id and the caller
	// must track it so teardown can reclaim the instance.
	Create(ctx context.Context, imageID string) (*models.Worker, error)

	// Terminate destroys the given instances.
	Terminate(ctx context.Context, ids []string) error
}
