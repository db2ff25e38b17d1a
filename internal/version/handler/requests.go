package handler

import (
	"strings"

	"examen/internal/version/models"
	id "examen/pkg/domain"
	dErrors "examen/pkg/domain-errors"
)

// CreateVersionRequest is the HTTP request body for POST /versions.
type CreateVersionRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	Reason     string         `json:"reason"`

	// Parsed values (populated by Validate)
	parsedEntityType id.EntityType
	parsedEntityID   id.EntityID
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CreateVersionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	entityType, err := id.ParseEntityType(strings.TrimSpace(r.EntityType))
	if err != nil {
		return err
	}
	r.parsedEntityType = entityType

	entityID, err := id.ParseEntityID(strings.TrimSpace(r.EntityID))
	if err != nil {
		return err
	}
	r.parsedEntityID = entityID

	if len(r.Payload) == 0 {
		return dErrors.New(dErrors.CodeValidation, "payload is required")
	}

	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}

// ParsedEntityType returns the validated entity type.
func (r *CreateVersionRequest) ParsedEntityType() id.EntityType {
	return r.parsedEntityType
}

// ParsedEntityID returns the validated entity id.
func (r *CreateVersionRequest) ParsedEntityID() id.EntityID {
	return r.parsedEntityID
}

// IngestVersionRequest is the HTTP request body for POST /ingest/versions.
// Unlike CreateVersionRequest the author is part of the body: service key
// callers act on behalf of a recorded principal, not as themselves.
type IngestVersionRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	AuthorID   string         `json:"author_id"`
	Payload    map[string]any `json:"payload"`
	Reason     string         `json:"reason"`

	parsedEntityType id.EntityType
	parsedEntityID   id.EntityID
	parsedAuthorID   id.ActorID
}

// Validate validates and parses the request.
func (r *IngestVersionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	entityType, err := id.ParseEntityType(strings.TrimSpace(r.EntityType))
	if err != nil {
		return err
	}
	r.parsedEntityType = entityType

	entityID, err := id.ParseEntityID(strings.TrimSpace(r.EntityID))
	if err != nil {
		return err
	}
	r.parsedEntityID = entityID

	r.AuthorID = strings.TrimSpace(r.AuthorID)
	if r.AuthorID == "" {
		return dErrors.New(dErrors.CodeValidation, "author_id is required")
	}
	authorID, err := id.ParseActorID(r.AuthorID)
	if err != nil {
		return err
	}
	r.parsedAuthorID = authorID

	if len(r.Payload) == 0 {
		return dErrors.New(dErrors.CodeValidation, "payload is required")
	}

	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}

// ParsedEntityType returns the validated entity type.
func (r *IngestVersionRequest) ParsedEntityType() id.EntityType {
	return r.parsedEntityType
}

// ParsedEntityID returns the validated entity id.
func (r *IngestVersionRequest) ParsedEntityID() id.EntityID {
	return r.parsedEntityID
}

// ParsedAuthorID returns the validated author.
func (r *IngestVersionRequest) ParsedAuthorID() id.ActorID {
	return r.parsedAuthorID
}

// DecideVersionRequest is the HTTP request body for POST /versions/{versionID}/decide.
type DecideVersionRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`

	parsedDecision models.Decision
}

// Validate validates and parses the request. A revision request without
// notes gives the author nothing to act on, so notes are required there.
func (r *DecideVersionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	decision, err := models.ParseDecision(strings.TrimSpace(r.Decision))
	if err != nil {
		return err
	}
	r.parsedDecision = decision

	r.Notes = strings.TrimSpace(r.Notes)
	if decision == models.DecisionRequestRevision && r.Notes == "" {
		return dErrors.New(dErrors.CodeValidation, "notes are required when requesting a revision")
	}
	if len(r.Notes) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 2000 characters")
	}
	return nil
}

// ParsedDecision returns the validated decision.
func (r *DecideVersionRequest) ParsedDecision() models.Decision {
	return r.parsedDecision
}

// RevertVersionRequest is the HTTP request body for POST /versions/revert.
type RevertVersionRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ToVersion  int    `json:"to_version"`
	Reason     string `json:"reason"`

	parsedEntityType id.EntityType
	parsedEntityID   id.EntityID
}

// Validate validates and parses the request.
func (r *RevertVersionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	entityType, err := id.ParseEntityType(strings.TrimSpace(r.EntityType))
	if err != nil {
		return err
	}
	r.parsedEntityType = entityType

	entityID, err := id.ParseEntityID(strings.TrimSpace(r.EntityID))
	if err != nil {
		return err
	}
	r.parsedEntityID = entityID

	if r.ToVersion < 1 {
		return dErrors.New(dErrors.CodeValidation, "to_version must be at least 1")
	}

	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 2000 characters")
	}
	return nil
}

// ParsedEntityType returns the validated entity type.
func (r *RevertVersionRequest) ParsedEntityType() id.EntityType {
	return r.parsedEntityType
}

// ParsedEntityID returns the validated entity id.
func (r *RevertVersionRequest) ParsedEntityID() id.EntityID {
	return r.parsedEntityID
}

// VersionListResponse wraps the version collection returned by the history
// endpoint, newest first.
type VersionListResponse struct {
	Versions []*models.EntityVersion `json:"versions"`
}
