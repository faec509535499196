// Package missions exposes the mission and submission operations the
// dashboard offers, gated by the mission lifecycle so illegal actions are
// refused locally before any request is made.
package missions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/hexlabs/cyberdash/domain"
	apperrors "github.com/hexlabs/cyberdash/pkg/errors"
	"github.com/hexlabs/cyberdash/pkg/validator"
	"github.com/hexlabs/cyberdash/transport"
)

// Detail is the server's view of a mission: current state, the learner's
// submission, and any review feedback.
type Detail struct {
	Mission        domain.Mission     `json:"mission"`
	Submission     *domain.Submission `json:"submission,omitempty"`
	AIFeedback     string             `json:"ai_feedback,omitempty"`
	MentorFeedback string             `json:"mentor_feedback,omitempty"`
}

// HasAIFeedback reports whether AI review feedback exists.
func (d *Detail) HasAIFeedback() bool {
	return d.AIFeedback != ""
}

// Service performs mission operations through the authenticated transport.
type Service struct {
	tc     *transport.Client
	logger *slog.Logger
}

// NewService creates a mission service.
func NewService(tc *transport.Client, logger *slog.Logger) *Service {
	return &Service{
		tc:     tc,
		logger: logger,
	}
}

// Get fetches the current mission detail.
func (s *Service) Get(ctx context.Context, missionID string) (*Detail, error) {
	var d Detail
	if err := s.tc.GetJSON(ctx, "/missions/"+missionID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Start begins a mission, establishing its submission record. Refused
// locally unless the mission can enter in_progress.
func (s *Service) Start(ctx context.Context, m *domain.Mission) (*Detail, error) {
	if !m.CanTransitionTo(domain.StatusInProgress) {
		return nil, apperrors.TransitionNotAllowed(m.Status, domain.StatusInProgress)
	}

	var d Detail
	if err := s.tc.PostJSON(ctx, "/missions/"+m.ID+"/start", nil, &d); err != nil {
		return nil, err
	}

	s.logger.Info("mission started",
		slog.String("mission_id", m.ID),
		slog.String("status", d.Mission.Status),
	)
	return &d, nil
}

// SubmissionInput carries the learner's deliverables for a draft save or a
// final submission.
type SubmissionInput struct {
	FileURLs    []string `json:"file_urls" validate:"dive,url"`
	GithubURL   string   `json:"github_url" validate:"omitempty,url"`
	NotebookURL string   `json:"notebook_url" validate:"omitempty,url"`
	VideoURL    string   `json:"video_url" validate:"omitempty,url"`
	Notes       string   `json:"notes" validate:"max=10000"`
}

func (in SubmissionInput) hasEvidence() bool {
	return len(in.FileURLs) > 0 || in.GithubURL != "" || in.NotebookURL != ""
}

// SaveDraft persists a draft of the submission. Drafts are the one place the
// client asserts state optimistically; the returned submission reflects the
// server's copy once confirmed.
func (s *Service) SaveDraft(ctx context.Context, missionID string, in SubmissionInput) (*domain.Submission, error) {
	if err := validator.Validate(in); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	var sub domain.Submission
	if err := s.tc.PostJSON(ctx, "/missions/"+missionID+"/draft", in, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Submit turns the draft into a final submission. Validation runs locally
// first: a submission with no file, repository, or notebook evidence is
// refused without any network round trip.
func (s *Service) Submit(ctx context.Context, m *domain.Mission, in SubmissionInput) (*Detail, error) {
	if err := validator.Validate(in); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if !in.hasEvidence() {
		return nil, apperrors.InvalidInput("a submission needs at least one file, repository link, or notebook link")
	}
	if !m.CanTransitionTo(domain.StatusSubmitted) {
		return nil, apperrors.TransitionNotAllowed(m.Status, domain.StatusSubmitted)
	}

	var d Detail
	if err := s.tc.PostJSON(ctx, "/missions/"+m.ID+"/submit", in, &d); err != nil {
		return nil, err
	}

	s.logger.Info("mission submitted",
		slog.String("mission_id", m.ID),
		slog.String("status", d.Mission.Status),
	)
	return &d, nil
}

// RequestMentorReview asks for a human review pass. Only permitted once AI
// feedback exists or the mission is already in AI review; otherwise refused
// locally.
func (s *Service) RequestMentorReview(ctx context.Context, d *Detail) (*Detail, error) {
	if !domain.CanRequestMentorReview(d.Mission.Status, d.HasAIFeedback()) {
		return nil, apperrors.InvalidInput("mentor review requires completed AI feedback")
	}

	var updated Detail
	if err := s.tc.PostJSON(ctx, "/missions/"+d.Mission.ID+"/mentor-review", nil, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// UploadArtifact uploads evidence as a multipart body and returns the stored
// file URL for appending to the submission's file list.
func (s *Service) UploadArtifact(ctx context.Context, missionID, filename string, r io.Reader) (string, error) {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.WriteField("mission_id", missionID); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := s.tc.Upload(ctx, "/missions/"+missionID+"/artifacts", body, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// UpdateProgress pushes a whole-map progress snapshot to the server. It
// implements syncer.ProgressSyncer.
func (s *Service) UpdateProgress(ctx context.Context, missionID string, snap domain.Snapshot) error {
	return s.tc.PatchJSON(ctx, "/mission-progress/"+missionID, snap, nil)
}
