package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/hepgrid/internal/server/handlers"
	"github.com/3leaps/hepgrid/pkg/artifact"
	"github.com/3leaps/hepgrid/pkg/provider"
)

var _ handlers.Checker = storageChecker{}

// storageChecker lists the input directory to prove the storage provider
// answers.
type storageChecker struct {
	p provider.Provider
}

func (c storageChecker) CheckHealth(ctx context.Context) error {
	lister, ok := c.p.(provider.Lister)
	if !ok {
		return nil
	}
	_, err := lister.List(ctx, string(artifact.DirInput)+"/")
	if errors.Is(err, provider.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list %s: %w", artifact.DirInput, err)
	}
	return nil
}
