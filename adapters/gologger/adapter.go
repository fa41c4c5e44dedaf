package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	LoggerSync      = "sync"
	LoggerScheduler = "sync.scheduler"
	LoggerHTTP      = "sync.http"
	LoggerJobs      = "sync.jobs"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// Loggers holds the named loggers the sync daemon hands to its components.
type Loggers struct {
	Provider  glog.LoggerProvider
	Sync      glog.Logger
	Scheduler glog.Logger
	HTTP      glog.Logger
	Jobs      job.Logger
}

// ComponentLoggers resolves one logger per daemon component. Components
// fall back to the root logger when the provider has none for their name.
func ComponentLoggers(provider glog.LoggerProvider, logger glog.Logger) Loggers {
	resolvedProvider, root := Resolve(LoggerSync, provider, logger)
	root = glog.Ensure(root)
	named := func(name string) glog.Logger {
		if resolvedProvider == nil {
			return root
		}
		if candidate := resolvedProvider.GetLogger(name); candidate != nil {
			return candidate
		}
		return root
	}
	return Loggers{
		Provider:  resolvedProvider,
		Sync:      root,
		Scheduler: named(LoggerScheduler),
		HTTP:      named(LoggerHTTP),
		Jobs:      ToJobLogger(named(LoggerJobs)),
	}
}
