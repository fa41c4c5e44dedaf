package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type staticStoreFactory struct {
	store     *MemoryStore
	requested any
}

func (f *staticStoreFactory) BuildStores(client any) (StoreProvider, error) {
	f.requested = client
	return f.store, nil
}

func TestNewService_DefaultConfig(t *testing.T) {
	svc, err := NewService(Config{}, WithRepositoryFactory(NewMemoryStore()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "atlassian-sync" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Scheduler.BatchSize != 50 || cfg.Scheduler.LeaseTimeout != 5*time.Minute {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if svc.Logger() == nil || svc.LoggerProvider() == nil {
		t.Fatalf("expected default logger wiring")
	}
}

func TestNewService_WithOverrides(t *testing.T) {
	customLogger := stubLogger{}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	persistenceClient := &struct{ Name string }{Name: "persistence"}
	factory := &staticStoreFactory{store: NewMemoryStore()}
	resolved := DefaultConfig()
	resolved.ServiceName = "resolved"

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(stubLoggerProvider{logger: customLogger}),
		WithErrorMapper(customMapper),
		WithPersistenceClient(persistenceClient),
		WithRepositoryFactory(factory),
		WithConfigProvider(&fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}),
		WithOptionsResolver(&fixedOptionsResolver{cfg: resolved}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Logger() != customLogger {
		t.Fatalf("expected custom logger")
	}
	if factory.requested != persistenceClient {
		t.Fatalf("expected factory to receive the persistence client")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected resolver output, got %q", got)
	}

	_, err = svc.GetEvent(context.Background(), "", "")
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected custom mapper to be used, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"scheduler": map[string]any{
			"batch_size":    25,
			"lease_timeout": 10 * time.Minute,
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"},
		WithConfigProvider(provider),
		WithRepositoryFactory(NewMemoryStore()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to win, got %q", cfg.ServiceName)
	}
	if cfg.Scheduler.BatchSize != 25 || cfg.Scheduler.LeaseTimeout != 10*time.Minute {
		t.Fatalf("expected config layer values, got %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.Concurrency != 10 {
		t.Fatalf("expected default concurrency to survive, got %d", cfg.Scheduler.Concurrency)
	}
}

func TestConfigValidate_LeaseMustExceedPublishTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.LeaseTimeout = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected lease timeout validation error")
	}

	_, err := NewService(Config{Scheduler: SchedulerConfig{LeaseTimeout: 10 * time.Second}}, WithRepositoryFactory(NewMemoryStore()))
	if err == nil {
		t.Fatalf("expected service construction to fail validation")
	}
}

func TestStaticConfigLoader_CopiesValues(t *testing.T) {
	values := map[string]any{"service_name": "static"}
	raw, err := NewStaticConfigLoader(values).LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	raw["service_name"] = "mutated"
	if values["service_name"] != "static" {
		t.Fatalf("expected loader to return a copy")
	}
}
