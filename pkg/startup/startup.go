package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type StartupDependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StartupStatus int

const (
	StartupStatusPending StartupStatus = iota
	StartupStatusStarted
	StartupStatusStopped
	StartupStatusFailed
)

// Startup brings up the engine's backing services (database, migrations, redis,
// kafka) in dependency order, retrying with a fibonacci backoff.
type Startup struct {
	dependencies map[string]StartupDependency
	order        []string
	logger       ectologger.Logger
	statuses     map[string]StartupStatus
	attempt      int
	maxAttempts  int
	backoffUnit  time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		logger:       logger,
		dependencies: make(map[string]StartupDependency),
		statuses:     make(map[string]StartupStatus),
		maxAttempts:  maxAttempts,
		backoffUnit:  time.Second,
	}
}

// AddDependency registers a dependency. Registration order is the start order
// among dependencies that do not depend on each other.
func (s *Startup) AddDependency(dependency StartupDependency) {
	if _, exists := s.dependencies[dependency.GetName()]; !exists {
		s.order = append(s.order, dependency.GetName())
	}
	s.dependencies[dependency.GetName()] = dependency
}

func (s *Startup) Status(name string) StartupStatus {
	return s.statuses[name]
}

func (s *Startup) Start(ctx context.Context) error {
	s.attempt = 0
	var lastErr error

	a, b := 1, 1
	for s.attempt < s.maxAttempts {
		s.attempt++
		s.logger.WithField("attempt", s.attempt).Infof("Beginning startup attempt %d", s.attempt)

		success := true
		for _, name := range s.order {
			if err := s.startDependency(ctx, s.dependencies[name], nil); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, s.attempt)
				lastErr = err
				success = false
				break
			}
		}

		if success {
			return nil
		}

		if s.attempt >= s.maxAttempts {
			return fmt.Errorf("startup failed after %d attempts: %w", s.attempt, lastErr)
		}

		waitTime := time.Duration(a) * s.backoffUnit
		s.logger.Infof("Retrying in %s (attempt %d/%d)", waitTime, s.attempt, s.maxAttempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}

		a, b = b, a+b
	}

	return lastErr
}

func (s *Startup) startDependency(ctx context.Context, dependency StartupDependency, visiting []string) error {
	name := dependency.GetName()
	if s.statuses[name] == StartupStatusStarted {
		return nil
	}
	for _, v := range visiting {
		if v == name {
			return fmt.Errorf("circular startup dependency on '%s'", name)
		}
	}
	visiting = append(visiting, name)

	for _, dependencyName := range dependency.DependsOn() {
		parent, ok := s.dependencies[dependencyName]
		if !ok {
			return fmt.Errorf("dependency '%s' required by '%s' is not registered", dependencyName, name)
		}
		if err := s.startDependency(ctx, parent, visiting); err != nil {
			return err
		}
	}

	s.logger.WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StartupStatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StartupStatusFailed
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to start dependency '%s'", name)
		return err
	}
	s.statuses[name] = StartupStatusStarted
	return nil
}

// Stop stops started dependencies in reverse registration order.
func (s *Startup) Stop(ctx context.Context) error {
	for i := len(s.order) - 1; i >= 0; i-- {
		dependency := s.dependencies[s.order[i]]
		if s.statuses[dependency.GetName()] != StartupStatusStarted {
			continue
		}
		if err := s.stopDependency(ctx, dependency); err != nil {
			return err
		}
	}
	return nil
}

func (s *Startup) stopDependency(ctx context.Context, dependency StartupDependency) error {
	name := dependency.GetName()
	s.logger.WithField("dependency", name).Infof("Stopping dependency '%s'", name)
	if err := dependency.Stop(ctx); err != nil {
		s.logger.WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
		return err
	}

	s.logger.WithField("dependency", name).Infof("Dependency '%s' stopped", name)
	s.statuses[name] = StartupStatusStopped
	return nil
}

// Dependency adapts plain functions to StartupDependency.
type Dependency struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (d *Dependency) GetName() string {
	return d.Name
}

func (d *Dependency) DependsOn() []string {
	return d.Requires
}

func (d *Dependency) Start(ctx context.Context) error {
	if d.OnStart == nil {
		return nil
	}
	return d.OnStart(ctx)
}

func (d *Dependency) Stop(ctx context.Context) error {
	if d.OnStop == nil {
		return nil
	}
	return d.OnStop(ctx)
}
