package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-atlassian-sync/core"
)

const (
	SourceJira       = "jira"
	SourceConfluence = "confluence"
)

// Payload is a decoded provider payload. The set of implementations is
// closed: JiraIssuePayload, ConfluencePagePayload and GenericPayload.
type Payload interface {
	Provider() string
	// Document returns the full decoded JSON object. Mapping paths resolve
	// against it.
	Document() map[string]any
	defaults() entityDefaults
}

type entityDefaults struct {
	entityType string
	id         string
	name       string
	properties map[string]any
}

type JiraIssuePayload struct {
	WebhookEvent string
	Issue        map[string]any
	raw          map[string]any
}

func (p JiraIssuePayload) Provider() string { return SourceJira }

func (p JiraIssuePayload) Document() map[string]any { return p.raw }

func (p JiraIssuePayload) defaults() entityDefaults {
	id := stringAt(p.Issue, "key")
	if id == "" {
		id = stringAt(p.Issue, "id")
	}
	properties := map[string]any{}
	for target, path := range map[string]string{
		"status":     "fields.status.name",
		"issue_type": "fields.issuetype.name",
		"project":    "fields.project.key",
		"priority":   "fields.priority.name",
		"assignee":   "fields.assignee.displayName",
	} {
		if value, ok := lookupPath(p.Issue, path); ok && value != nil {
			properties[target] = value
		}
	}
	return entityDefaults{
		entityType: "jira_issue",
		id:         id,
		name:       stringAt(p.Issue, "fields.summary"),
		properties: properties,
	}
}

type ConfluencePagePayload struct {
	EventType string
	Page      map[string]any
	raw       map[string]any
}

func (p ConfluencePagePayload) Provider() string { return SourceConfluence }

func (p ConfluencePagePayload) Document() map[string]any { return p.raw }

func (p ConfluencePagePayload) defaults() entityDefaults {
	properties := map[string]any{}
	for target, path := range map[string]string{
		"space":   "spaceKey",
		"version": "version",
		"author":  "creatorAccountId",
	} {
		if value, ok := lookupPath(p.Page, path); ok && value != nil {
			properties[target] = value
		}
	}
	return entityDefaults{
		entityType: "confluence_page",
		id:         stringAt(p.Page, "id"),
		name:       stringAt(p.Page, "title"),
		properties: properties,
	}
}

// GenericPayload carries payloads from providers without a dedicated shape.
type GenericPayload struct {
	Source string
	raw    map[string]any
}

func (p GenericPayload) Provider() string { return p.Source }

func (p GenericPayload) Document() map[string]any { return p.raw }

func (p GenericPayload) defaults() entityDefaults {
	name := stringAt(p.raw, "name")
	if name == "" {
		name = stringAt(p.raw, "title")
	}
	entityType := "entity"
	if source := strings.TrimSpace(p.Source); source != "" {
		entityType = source + "_entity"
	}
	return entityDefaults{
		entityType: entityType,
		id:         stringAt(p.raw, "id"),
		name:       name,
		properties: map[string]any{},
	}
}

// Decode parses raw into the payload shape for source. A payload that is not
// a JSON object, or a recognized envelope holding the wrong JSON type, is a
// transform error. Unknown sources decode to GenericPayload.
func Decode(source string, raw json.RawMessage) (Payload, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, core.NewTransformError("sync: payload is not a json object", map[string]any{"source": source})
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	document := map[string]any{}
	if err := decoder.Decode(&document); err != nil {
		return nil, core.WrapTransformError(err, "sync: payload could not be decoded", map[string]any{"source": source})
	}

	switch {
	case source == SourceJira || (source == "" && document["issue"] != nil):
		issue, err := envelope(document, "issue", source)
		if err != nil {
			return nil, err
		}
		return JiraIssuePayload{
			WebhookEvent: stringAt(document, "webhookEvent"),
			Issue:        issue,
			raw:          document,
		}, nil
	case source == SourceConfluence || (source == "" && document["page"] != nil):
		page, err := envelope(document, "page", source)
		if err != nil {
			return nil, err
		}
		return ConfluencePagePayload{
			EventType: firstString(document, "eventType", "event"),
			Page:      page,
			raw:       document,
		}, nil
	default:
		return GenericPayload{Source: source, raw: document}, nil
	}
}

// envelope returns document[key] as an object. A missing envelope is an
// empty object; a present one of another JSON type is malformed.
func envelope(document map[string]any, key string, source string) (map[string]any, error) {
	value, ok := document[key]
	if !ok || value == nil {
		return map[string]any{}, nil
	}
	asMap, ok := value.(map[string]any)
	if !ok {
		return nil, core.NewTransformError(
			fmt.Sprintf("sync: %s payload field %q must be an object", source, key),
			map[string]any{"source": source, "field": key},
		)
	}
	return asMap, nil
}
