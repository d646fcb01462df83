package backup

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Service is one kind of data backed up from an account (mail, calendar, contacts)
type Service interface {
	Name() string
	Run(ctx context.Context) (*Report, error)
}

// ServiceFunc adapts a function to the Service interface
type ServiceFunc struct {
	name string
	run  func(ctx context.Context) (*Report, error)
}

func NewService(name string, run func(ctx context.Context) (*Report, error)) *ServiceFunc {
	return &ServiceFunc{name: name, run: run}
}

func (s *ServiceFunc) Name() string {
	return s.name
}

func (s *ServiceFunc) Run(ctx context.Context) (*Report, error) {
	return s.run(ctx)
}

// ServiceResult is the outcome of one service
type ServiceResult struct {
	Service string
	Report  *Report
	Err     error
}

// RunServices runs all the services at the same time and waits for all of them.
// A failing service never stops the others: each error is kept in its own result.
func RunServices(ctx context.Context, services ...Service) []ServiceResult {
	results := make([]ServiceResult, len(services))
	// no shared context: a failure must not cancel the other services
	group := new(errgroup.Group)
	for i, service := range services {
		i, service := i, service
		results[i].Service = service.Name()
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("service %s panicked: %v\n%s", service.Name(), r, debug.Stack())
				}
			}()
			results[i].Report, results[i].Err = service.Run(ctx)
			return nil
		})
	}
	_ = group.Wait()
	return results
}
