package publisher

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
)

type Publisher struct {
	client *Client
}

func New(client *Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("publisher: client is required")
	}
	return &Publisher{client: client}, nil
}

func (p *Publisher) Client() *Client {
	return p.client
}

// Publish executes one operation. Errors are *core.PublishError carrying the
// retry classification.
func (p *Publisher) Publish(ctx context.Context, op core.DownstreamOperation) (core.PublishResult, error) {
	if err := op.Validate(); err != nil {
		return core.PublishResult{}, &core.PublishError{Operation: op.Kind, Message: "publisher: invalid operation", Cause: err}
	}

	switch op.Kind {
	case core.OperationCreateEntity:
		entity, err := p.client.CreateEntity(ctx, Entity{
			ID:         op.Entity.ExternalID,
			Type:       op.Entity.Type,
			Name:       op.Entity.Name,
			Properties: op.Entity.Properties,
			Metadata:   op.Entity.Metadata,
		})
		if err != nil {
			return core.PublishResult{}, tagOperation(err, op.Kind)
		}
		id := strings.TrimSpace(entity.ID)
		if id == "" {
			id = op.Entity.ExternalID
		}
		return core.PublishResult{Kind: op.Kind, ID: id}, nil
	default:
		relationship, err := p.client.CreateRelationship(ctx, Relationship{
			SourceID:     op.Link.SourceID,
			TargetID:     op.Link.TargetID,
			SourceType:   op.Link.SourceType,
			TargetType:   op.Link.TargetType,
			RelationType: op.Link.RelationType,
			Properties:   op.Link.Properties,
		})
		if err != nil {
			return core.PublishResult{}, tagOperation(err, op.Kind)
		}
		return core.PublishResult{Kind: op.Kind, ID: strings.TrimSpace(relationship.ID)}, nil
	}
}

func (p *Publisher) Health(ctx context.Context) (map[string]any, error) {
	return p.client.Health(ctx)
}

func tagOperation(err error, kind core.OperationKind) error {
	var publishErr *core.PublishError
	if errors.As(err, &publishErr) && publishErr.Operation == "" {
		publishErr.Operation = kind
	}
	return err
}

var (
	_ core.Publisher     = (*Publisher)(nil)
	_ core.HealthChecker = (*Publisher)(nil)
)
