package review

import "vos/internal/models"

// Event types written to the review stream.
const (
	EventPersonaStatus = "persona_status"
	EventComment       = "comment"
	EventDone          = "done"
	EventError         = "error"
)

// Event is one message of a review stream. Which fields are set depends on
// Type.
type Event struct {
	Type          string          `json:"type"`
	PersonaID     string          `json:"persona_id,omitempty"`
	PersonaName   string          `json:"persona_name,omitempty"`
	PersonaColor  string          `json:"persona_color,omitempty"`
	Status        string          `json:"status,omitempty"`
	Comment       *models.Comment `json:"comment,omitempty"`
	ReviewID      string          `json:"review_id,omitempty"`
	TotalComments *int            `json:"total_comments,omitempty"`
	Error         string          `json:"error,omitempty"`
	Detail        string          `json:"detail,omitempty"`
}

func personaStatusEvent(p models.Persona, status models.PersonaStatus, err error) Event {
	ev := Event{
		Type:         EventPersonaStatus,
		PersonaID:    p.ID,
		PersonaName:  p.Name,
		PersonaColor: p.Color,
		Status:       string(status),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func commentEvent(c models.Comment) Event {
	return Event{Type: EventComment, Comment: &c}
}

func doneEvent(reviewID string, total int, status models.ReviewStatus) Event {
	return Event{Type: EventDone, ReviewID: reviewID, TotalComments: &total, Status: string(status)}
}
