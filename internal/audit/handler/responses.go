package handler

import (
	"time"

	"examen/internal/audit/models"
	"examen/internal/audit/service"
	id "examen/pkg/domain"
)

// HistoryResponse is the HTTP response for GET /audit/{subjectType}/{subjectID}.
type HistoryResponse struct {
	SubjectType models.SubjectType `json:"subject_type"`
	SubjectID   string             `json:"subject_id"`
	Entries     []*models.Entry    `json:"entries"`
}

// ReplayResponse is the HTTP response for GET /audit/{subjectType}/{subjectID}/replay.
type ReplayResponse struct {
	SubjectType models.SubjectType `json:"subject_type"`
	SubjectID   string             `json:"subject_id"`
	Current     string             `json:"current_state"`
	Transitions int                `json:"transitions"`
	LastTrigger string             `json:"last_trigger"`
	LastActor   id.ActorID         `json:"last_actor"`
	LastAt      time.Time          `json:"last_at"`
}

// FromReplayedState converts a replay result to an HTTP response.
func FromReplayedState(s *service.ReplayedState) *ReplayResponse {
	return &ReplayResponse{
		SubjectType: s.SubjectType,
		SubjectID:   s.SubjectID,
		Current:     s.Current,
		Transitions: s.Transitions,
		LastTrigger: s.LastTrigger,
		LastActor:   s.LastActor,
		LastAt:      s.LastAt,
	}
}
