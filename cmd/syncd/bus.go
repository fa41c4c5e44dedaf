package main

import (
	"github.com/goliatone/go-atlassian-sync/adapters/gocommand"

	"github.com/goliatone/go-command"
)

// subscribeCommandBus registers the sync handlers on the go-command bus. The
// returned func releases every subscription.
func (rt *runtime) subscribeCommandBus() (func(), error) {
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := gocommand.RegisterSyncHandlers(adapter, gocommand.HandlersForService(rt.service, rt.scheduler))
	if err != nil {
		return nil, err
	}
	release := func() {
		for _, subscription := range subscriptions {
			subscription.Unsubscribe()
		}
	}
	if err := adapter.Initialize(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}
