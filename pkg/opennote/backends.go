package opennote

import (
	"context"
	"fmt"
	"strings"

	"focusroom-be/pkg/intervention"
)

const (
	referenceLimit   = 500
	descriptionLimit = 1000
	titleTopicLimit  = 40

	simplifySystemPrompt = "Create a simple, visual explanation for a student who is confused. Use analogies and step-by-step breakdown."
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// statusOf folds the API's loose status strings into the job lifecycle.
func statusOf(s string) intervention.JobStatus {
	switch strings.ToLower(s) {
	case "completed", "complete", "done", "ready", "succeeded", "success":
		return intervention.JobReady
	case "failed", "error", "cancelled", "canceled":
		return intervention.JobFailed
	default:
		return intervention.JobPending
	}
}

// VideoBackend produces a short simplified re-explanation video.
type VideoBackend struct {
	client *Client
}

func NewVideoBackend(c *Client) *VideoBackend {
	return &VideoBackend{client: c}
}

// SimplifiedVideoRequest shapes the request for a learner who lost the thread.
func SimplifiedVideoRequest(topic, reference string) VideoRequest {
	return VideoRequest{
		Model: "picasso",
		Messages: []ChatMessage{
			{Role: "system", Content: simplifySystemPrompt},
			{Role: "user", Content: fmt.Sprintf(
				"The student didn't understand this explanation: %s... Please create a clearer, visual explanation of: %s",
				truncate(reference, referenceLimit), topic)},
		},
		Title:          "Simplified: " + truncate(topic, titleTopicLimit),
		IncludeSources: true,
		SearchFor:      topic,
		Length:         2,
		UploadToS3:     true,
	}
}

func (b *VideoBackend) Start(ctx context.Context, req intervention.GenerationRequest) (intervention.Acceptance, error) {
	created, err := b.client.CreateVideo(ctx, SimplifiedVideoRequest(req.Topic, req.ReferenceText))
	if err != nil {
		return intervention.Acceptance{}, err
	}
	return intervention.Acceptance{ExternalID: created.VideoID}, nil
}

func (b *VideoBackend) Status(ctx context.Context, externalID string) (intervention.ExternalStatus, error) {
	st, err := b.client.GetVideoStatus(ctx, externalID)
	if err != nil {
		return intervention.ExternalStatus{}, err
	}
	out := intervention.ExternalStatus{Status: statusOf(st.Status), Error: st.Error}
	if out.Status == intervention.JobReady {
		out.ResultRef = st.Response.S3URL
		if out.ResultRef == "" {
			out.ResultRef = externalID
		}
	}
	return out, nil
}

// FlashcardsBackend creates a review set. The API answers synchronously.
type FlashcardsBackend struct {
	client *Client
}

func NewFlashcardsBackend(c *Client) *FlashcardsBackend {
	return &FlashcardsBackend{client: c}
}

func FlashcardsRequest(topic, content string) SetRequest {
	return SetRequest{
		SetDescription: fmt.Sprintf("Create flashcards about %s. Key concepts: %s", topic, truncate(content, descriptionLimit)),
		Count:          5,
		Difficulty:     "medium",
	}
}

func (b *FlashcardsBackend) Start(ctx context.Context, req intervention.GenerationRequest) (intervention.Acceptance, error) {
	created, err := b.client.CreateFlashcards(ctx, FlashcardsRequest(req.Topic, req.ReferenceText))
	if err != nil {
		return intervention.Acceptance{}, err
	}
	return intervention.Acceptance{ExternalID: created.SetID, Done: true, ResultRef: created.SetID}, nil
}

func (b *FlashcardsBackend) Status(_ context.Context, externalID string) (intervention.ExternalStatus, error) {
	return intervention.ExternalStatus{Status: intervention.JobReady, ResultRef: externalID}, nil
}

// PracticeBackend creates a small mixed practice set and polls it.
type PracticeBackend struct {
	client *Client
}

func NewPracticeBackend(c *Client) *PracticeBackend {
	return &PracticeBackend{client: c}
}

func PracticeRequest(topic, content string) SetRequest {
	return SetRequest{
		SetDescription: fmt.Sprintf("Create practice problems about %s. Content covered: %s", topic, truncate(content, descriptionLimit)),
		Count:          3,
		Difficulty:     "medium",
		QuestionTypes:  []string{"multiple_choice", "short_answer"},
	}
}

func (b *PracticeBackend) Start(ctx context.Context, req intervention.GenerationRequest) (intervention.Acceptance, error) {
	created, err := b.client.CreatePractice(ctx, PracticeRequest(req.Topic, req.ReferenceText))
	if err != nil {
		return intervention.Acceptance{}, err
	}
	return intervention.Acceptance{ExternalID: created.SetID}, nil
}

func (b *PracticeBackend) Status(ctx context.Context, externalID string) (intervention.ExternalStatus, error) {
	st, err := b.client.GetPracticeStatus(ctx, externalID)
	if err != nil {
		return intervention.ExternalStatus{}, err
	}
	out := intervention.ExternalStatus{Status: statusOf(st.Status), Error: st.Error}
	if out.Status == intervention.JobReady {
		out.ResultRef = externalID
	}
	return out, nil
}
