package transform

import (
	"context"
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
)

// Transformer turns one sync event into at most one CREATE_ENTITY followed by
// the LINK_ENTITIES its link rules resolve. Fields the rules point at but the
// payload lacks are skipped.
type Transformer struct{}

func New() Transformer {
	return Transformer{}
}

func (Transformer) Transform(
	_ context.Context,
	event core.SyncEvent,
	config core.SyncConfiguration,
) ([]core.DownstreamOperation, error) {
	rules := config.MappingRules
	if !rules.AcceptsEventType(event.Type) {
		return nil, nil
	}
	source := event.Source
	if strings.TrimSpace(source) == "" {
		source = config.Source
	}
	payload, err := Decode(source, event.Changes)
	if err != nil {
		return nil, err
	}
	return Operations(payload, rules, event), nil
}

// Operations applies rules to an already decoded payload.
func Operations(payload Payload, rules core.MappingRules, event core.SyncEvent) []core.DownstreamOperation {
	document := payload.Document()
	defaults := payload.defaults()

	id := defaults.id
	if field := normalizePath(rules.IDField); field != "" {
		id = stringAt(document, field)
	}
	if id == "" {
		return nil
	}
	entityType := strings.TrimSpace(rules.EntityType)
	if entityType == "" {
		entityType = defaults.entityType
	}
	name := defaults.name
	if field := normalizePath(rules.NameField); field != "" {
		if mapped := stringAt(document, field); mapped != "" {
			name = mapped
		}
	}
	if name == "" {
		name = id
	}

	properties := defaults.properties
	if len(rules.Properties) > 0 {
		properties = map[string]any{}
		for target, path := range rules.Properties {
			target = strings.TrimSpace(target)
			if target == "" {
				continue
			}
			if value, ok := lookupPath(document, path); ok && value != nil {
				properties[target] = value
			}
		}
	}

	metadata := map[string]any{
		"source":        payload.Provider(),
		"event_type":    event.Type,
		"tenant_id":     event.TenantID,
		"sync_event_id": event.ID,
	}
	if configID := event.ConfigIDValue(); configID != "" {
		metadata["config_id"] = configID
	}

	operations := []core.DownstreamOperation{{
		Kind: core.OperationCreateEntity,
		Entity: &core.EntitySpec{
			ExternalID: id,
			Type:       entityType,
			Name:       name,
			Properties: properties,
			Metadata:   metadata,
		},
	}}

	for _, rule := range rules.Links {
		relation := strings.TrimSpace(rule.RelationType)
		if relation == "" {
			continue
		}
		value, ok := lookupPath(document, rule.SourcePath)
		if !ok {
			continue
		}
		seen := map[string]struct{}{}
		for _, target := range referenceIDs(value) {
			if target == id {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			operations = append(operations, core.DownstreamOperation{
				Kind: core.OperationLinkEntities,
				Link: &core.LinkSpec{
					SourceID:     id,
					SourceType:   entityType,
					TargetID:     target,
					TargetType:   strings.TrimSpace(rule.TargetType),
					RelationType: relation,
				},
			})
		}
	}
	return operations
}

var _ core.Transformer = Transformer{}
