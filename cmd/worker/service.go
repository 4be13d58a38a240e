package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/partscan-backend/pkg/logger"
)

// Consumer is a long-running subscription loop.
type Consumer interface {
	Run(ctx context.Context) error
}

// Dependency is checked once before any consumer starts.
type Dependency struct {
	Name string
	Ping func(context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []Dependency
	Consumers    []Consumer
}

type Service struct {
	logg         *logger.Logger
	dependencies []Dependency
	consumers    []Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.Ping == nil {
			return nil, fmt.Errorf("%s ping is required", dep.Name)
		}
	}
	return &Service{
		logg:         params.Logger,
		dependencies: params.Dependencies,
		consumers:    params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.dependencies {
		if err := pingDependency(ctx, s.logg, dep.Name, dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx ends or the first consumer exits. The other consumers
// are cancelled and awaited before returning.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(s.consumers))
	for _, c := range s.consumers {
		go func(c Consumer) {
			errCh <- c.Run(runCtx)
		}(c)
	}

	var first error
	remaining := len(s.consumers)
	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		first = ctx.Err()
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "consumer stopped unexpectedly", err)
		}
		first = err
		if first == nil {
			first = errors.New("consumer exited")
		}
	}
	cancel()

	for i := 0; i < remaining; i++ {
		<-errCh
	}
	return first
}
