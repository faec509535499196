package domain

import "time"

// Mission status constants.
const (
	StatusNotStarted       = "not_started"
	StatusInProgress       = "in_progress"
	StatusSubmitted        = "submitted"
	StatusInAIReview       = "in_ai_review"
	StatusAIReviewed       = "ai_reviewed"
	StatusInMentorReview   = "in_mentor_review"
	StatusApproved         = "approved"
	StatusChangesRequested = "changes_requested"
	StatusRejected         = "rejected"
	StatusFailed           = "failed"
	StatusRevised          = "revised"
)

// Mission represents a training mission assigned to a learner. Status is the
// single source of truth for what the learner may currently do with it.
type Mission struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	Objectives    []string  `json:"objectives"`
	EstimatedTime string    `json:"estimated_time,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Submission holds the learner's deliverables for a mission. Once a terminal
// review decision is recorded (approved) the submission is immutable, other
// than a superseding resubmission.
type Submission struct {
	ID          string   `json:"id"`
	MissionID   string   `json:"mission_id"`
	FileURLs    []string `json:"file_urls"`
	GithubURL   string   `json:"github_url,omitempty"`
	NotebookURL string   `json:"notebook_url,omitempty"`
	VideoURL    string   `json:"video_url,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Draft       bool     `json:"draft"`
}

// HasEvidence reports whether the submission carries at least one piece of
// reviewable evidence. A submit attempt without evidence is rejected locally
// before any request is made.
func (s *Submission) HasEvidence() bool {
	return len(s.FileURLs) > 0 || s.GithubURL != "" || s.NotebookURL != ""
}

// ValidStatuses returns all valid mission statuses.
func ValidStatuses() []string {
	return []string{
		StatusNotStarted,
		StatusInProgress,
		StatusSubmitted,
		StatusInAIReview,
		StatusAIReviewed,
		StatusInMentorReview,
		StatusApproved,
		StatusChangesRequested,
		StatusRejected,
		StatusFailed,
		StatusRevised,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// reviewDecisions are the server-driven outcomes reachable from any review state.
var reviewDecisions = []string{
	StatusApproved,
	StatusChangesRequested,
	StatusRejected,
	StatusFailed,
	StatusRevised,
}

// AllowedTransitions defines which status transitions are legal. The client
// never applies these transitions itself except for draft autosaves; it uses
// the table to gate which actions are offered, and the server confirms the
// actual transition.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		StatusNotStarted:       {StatusInProgress},
		StatusInProgress:       {StatusSubmitted},
		StatusSubmitted:        append([]string{StatusInAIReview}, reviewDecisions...),
		StatusInAIReview:       append([]string{StatusAIReviewed, StatusInMentorReview}, reviewDecisions...),
		StatusAIReviewed:       append([]string{StatusInMentorReview}, reviewDecisions...),
		StatusInMentorReview:   reviewDecisions,
		StatusChangesRequested: {StatusInProgress, StatusSubmitted},
		StatusRejected:         {StatusInProgress, StatusSubmitted},
		StatusFailed:           {StatusInProgress, StatusSubmitted},
		StatusRevised:          {StatusInProgress, StatusSubmitted},
		StatusApproved:         {},
	}
}

// CanTransitionTo checks if the mission can transition to the target status.
func (m *Mission) CanTransitionTo(target string) bool {
	allowed, ok := AllowedTransitions()[m.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// IsReviewStatus reports whether the status is one the server advances on its
// own. The client polls mission state while in any of these.
func IsReviewStatus(status string) bool {
	switch status {
	case StatusSubmitted, StatusInAIReview, StatusAIReviewed, StatusInMentorReview:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends submission mutability.
func IsTerminal(status string) bool {
	return status == StatusApproved
}

// CanRequestMentorReview gates the mentor-review action: it is only permitted
// once AI feedback exists or the mission is already in AI review.
func CanRequestMentorReview(status string, hasAIFeedback bool) bool {
	if status == StatusInAIReview {
		return true
	}
	return hasAIFeedback && status == StatusAIReviewed
}
