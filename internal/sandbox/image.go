package sandbox

import (
	"context"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/client"
	"go.uber.org/zap"
)

// ImageExists reports whether image is present locally.
func (x *Executor) ImageExists(ctx context.Context, image string) (bool, error) {
	if _, err := x.cli.ImageInspect(ctx, image); err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image %s: %w", image, err)
	}
	return true, nil
}

// PullImage pulls image and blocks until the pull completes.
func (x *Executor) PullImage(ctx context.Context, image string) error {
	x.logger.Info("pulling image", zap.String("image", image))
	resp, err := x.cli.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", image, err)
	}
	defer resp.Close()
	if err := resp.Wait(ctx); err != nil {
		return fmt.Errorf("pulling image %s: %w", image, err)
	}
	return nil
}

// EnsureImage pulls image unless it is already present.
func (x *Executor) EnsureImage(ctx context.Context, image string) error {
	ok, err := x.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return x.PullImage(ctx, image)
}
