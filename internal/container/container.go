// Package container provides a named service registry with lazy
// construction, bounded construction timeouts, and ordered disposal.
//
// Services are registered under a name with a factory and resolved on
// first demand. Singletons are constructed once and cached; transient
// services are constructed on every resolve and owned by the caller.
// Factories receive a container view that carries the resolve chain,
// so a factory can resolve its own dependencies and cycles are caught
// instead of deadlocking.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
)

const (
	defaultConstructTimeout = 10 * time.Second
	defaultDisposeTimeout   = 5 * time.Second
)

// ErrCircularDependency is returned when resolving a service reaches
// itself again through its own dependency chain.
var ErrCircularDependency = errors.New("circular dependency")

// ServiceConstructionError reports that a factory failed or timed out.
// It wraps the underlying cause, so errors.Is sees
// context.DeadlineExceeded on timeout.
type ServiceConstructionError struct {
	Service string
	Err     error
}

func (e *ServiceConstructionError) Error() string {
	return fmt.Sprintf("construct service %q: %v", e.Service, e.Err)
}

func (e *ServiceConstructionError) Unwrap() error { return e.Err }

// Factory builds a service instance. The context carries the
// construction deadline; the container view resolves dependencies.
type Factory func(ctx context.Context, c *Container) (any, error)

// Option adjusts a single registration.
type Option func(*registration)

// WithTransient makes every resolve run the factory. Transient values
// are not tracked by the container and are not disposed on shutdown.
func WithTransient() Option {
	return func(r *registration) { r.transient = true }
}

// WithTimeout bounds the factory run. Zero keeps the 10s default.
func WithTimeout(d time.Duration) Option {
	return func(r *registration) { r.timeout = d }
}

// WithFallback registers a factory tried when the primary one fails
// or times out. Without a fallback the construction error propagates.
func WithFallback(f Factory) Option {
	return func(r *registration) { r.fallback = f }
}

// WithDisposer sets the cleanup run for the constructed value during
// shutdown. Disposers should be idempotent. When no disposer is set
// and the value implements io.Closer, Close is used.
func WithDisposer(fn func(ctx context.Context, v any) error) Option {
	return func(r *registration) { r.disposer = fn }
}

// WithDisposeTimeout bounds the disposer run. Zero keeps the 5s
// default.
func WithDisposeTimeout(d time.Duration) Option {
	return func(r *registration) { r.disposeTimeout = d }
}

type registration struct {
	name           string
	factory        Factory
	fallback       Factory
	disposer       func(ctx context.Context, v any) error
	transient      bool
	timeout        time.Duration
	disposeTimeout time.Duration

	// mu serializes singleton construction so concurrent resolvers
	// share one instance. Guards built and value.
	mu    sync.Mutex
	built bool
	value any
}

// builtService is a live singleton queued for disposal.
type builtService struct {
	name    string
	dispose func(ctx context.Context) error
	timeout time.Duration
}

type state struct {
	mu     sync.RWMutex
	regs   map[string]*registration
	order  []builtService
	logger *observability.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// Container is a view over shared registry state. The zero value is
// not usable; create one with New. Views handed to factories carry
// the chain of services currently under construction.
type Container struct {
	st    *state
	chain []string
}

// New returns an empty container. A nil logger disables logging.
func New(logger *observability.Logger) *Container {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	return &Container{st: &state{
		regs:   make(map[string]*registration),
		logger: logger,
	}}
}

// Register adds a named service. The factory runs lazily on first
// resolve (every resolve for transients). Names must be unique.
func (c *Container) Register(name string, factory Factory, opts ...Option) error {
	if name == "" {
		return errors.New("service name is empty")
	}
	if factory == nil {
		return fmt.Errorf("service %q has a nil factory", name)
	}
	if c.st.closed.Load() {
		return fmt.Errorf("register %q: container is shut down", name)
	}

	reg := &registration{name: name, factory: factory}
	for _, opt := range opts {
		opt(reg)
	}

	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if _, exists := c.st.regs[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	c.st.regs[name] = reg
	return nil
}

// Names returns the registered service names, sorted.
func (c *Container) Names() []string {
	c.st.mu.RLock()
	names := make([]string, 0, len(c.st.regs))
	for name := range c.st.regs {
		names = append(names, name)
	}
	c.st.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Resolve returns the named service, constructing it if needed.
// Singleton construction is serialized per service; the first
// successful instance wins and later resolves return it.
func (c *Container) Resolve(ctx context.Context, name string) (any, error) {
	if c.st.closed.Load() {
		return nil, fmt.Errorf("resolve %q: container is shut down", name)
	}
	for _, seen := range c.chain {
		if seen == name {
			cycle := append(append([]string{}, c.chain...), name)
			return nil, fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(cycle, " -> "))
		}
	}

	c.st.mu.RLock()
	reg := c.st.regs[name]
	c.st.mu.RUnlock()
	if reg == nil {
		return nil, fmt.Errorf("service %q is not registered", name)
	}

	if reg.transient {
		return c.construct(ctx, reg)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.built {
		return reg.value, nil
	}
	v, err := c.construct(ctx, reg)
	if err != nil {
		return nil, err
	}
	reg.built = true
	reg.value = v
	c.st.remember(reg, v)
	return v, nil
}

// ResolveAs resolves name and asserts the value to T.
func ResolveAs[T any](ctx context.Context, c *Container, name string) (T, error) {
	var want T
	v, err := c.Resolve(ctx, name)
	if err != nil {
		return want, err
	}
	got, ok := v.(T)
	if !ok {
		return want, fmt.Errorf("service %q is %T, not %T", name, v, want)
	}
	return got, nil
}

// construct runs the primary factory and, when it fails, the fallback
// if one is registered. Fallback values stand in as the instance.
func (c *Container) construct(ctx context.Context, reg *registration) (any, error) {
	v, err := c.runFactory(ctx, reg, reg.factory)
	if err == nil {
		return v, nil
	}
	if reg.fallback == nil {
		return nil, &ServiceConstructionError{Service: reg.name, Err: err}
	}

	c.st.logger.Warn(ctx, "service construction failed, trying fallback",
		"service", reg.name,
		"error", err,
	)
	v, ferr := c.runFactory(ctx, reg, reg.fallback)
	if ferr != nil {
		return nil, &ServiceConstructionError{Service: reg.name, Err: errors.Join(err, ferr)}
	}
	return v, nil
}

// runFactory executes one factory under the service's construction
// timeout. A factory that overruns keeps running on its goroutine but
// its result is dropped; the buffered channel lets it exit.
func (c *Container) runFactory(ctx context.Context, reg *registration, fn Factory) (any, error) {
	timeout := reg.timeout
	if timeout <= 0 {
		timeout = defaultConstructTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scope := &Container{
		st:    c.st,
		chain: append(append([]string{}, c.chain...), reg.name),
	}

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(fctx, scope)
		done <- outcome{v: v, err: err}
	}()

	select {
	case out := <-done:
		return out.v, out.err
	case <-fctx.Done():
		return nil, fctx.Err()
	}
}

// remember queues a singleton for disposal. Values without a disposer
// that implement io.Closer are closed on shutdown.
func (s *state) remember(reg *registration, v any) {
	var dispose func(ctx context.Context) error
	switch {
	case reg.disposer != nil:
		fn := reg.disposer
		dispose = func(ctx context.Context) error { return fn(ctx, v) }
	default:
		closer, ok := v.(io.Closer)
		if !ok {
			return
		}
		dispose = func(context.Context) error { return closer.Close() }
	}

	s.mu.Lock()
	s.order = append(s.order, builtService{
		name:    reg.name,
		dispose: dispose,
		timeout: reg.disposeTimeout,
	})
	s.mu.Unlock()
}

// Shutdown disposes live singletons in reverse construction order so
// dependents go down before their dependencies. Each disposer runs
// under its own timeout; failures are logged and the drain continues.
// Shutdown is idempotent, and the container rejects registration and
// resolution afterwards.
func (c *Container) Shutdown(ctx context.Context) {
	c.st.closeOnce.Do(func() {
		c.st.closed.Store(true)

		c.st.mu.Lock()
		order := c.st.order
		c.st.order = nil
		c.st.mu.Unlock()

		for i := len(order) - 1; i >= 0; i-- {
			c.st.disposeOne(ctx, order[i])
		}
	})
}

func (s *state) disposeOne(ctx context.Context, b builtService) {
	timeout := b.timeout
	if timeout <= 0 {
		timeout = defaultDisposeTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.dispose(dctx) }()

	var err error
	select {
	case err = <-done:
	case <-dctx.Done():
		err = dctx.Err()
	}
	if err != nil {
		s.logger.Warn(ctx, "service disposer failed",
			"service", b.name,
			"error", err,
		)
		return
	}
	s.logger.Debug(ctx, "service disposed", "service", b.name)
}
