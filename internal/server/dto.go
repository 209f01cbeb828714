package server

import (
	"stillpoint/internal/domain"
	"stillpoint/internal/engine"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/kinds"
	"stillpoint/internal/repo"
)

// Request payloads

type CreateContentRequest struct {
	Payload map[string]any `json:"payload"`
}

type EditContentRequest struct {
	Payload         map[string]any `json:"payload"`
	LifecycleStatus *string        `json:"lifecycle_status,omitempty" enum:"active,inactive"`
	AssertedStatus  *string        `json:"asserted_status,omitempty" enum:"draft,approved"`
	Comment         *string        `json:"comment,omitempty"`
}

type ApproveRequest struct {
	Comment *string `json:"comment,omitempty"`
}

type InterestsRequest struct {
	FocusIDs []string `json:"focus_ids"`
}

type UploadURLRequest struct {
	Kind        string `json:"kind"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty" enum:"reviewer,contributor"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty" enum:"reviewer,contributor"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	auth.Actor
	Source string `json:"source"`
}

type KindResponse struct {
	Kind        domain.Kind `json:"kind"`
	MediaFolder string      `json:"media_folder,omitempty"`
	Tagged      bool        `json:"tagged"`
	Taxonomy    bool        `json:"taxonomy"`
}

type ContentListResponse struct {
	Items []domain.Content `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

type PendingResponse struct {
	Items []domain.Content `json:"items"`
}

type EditResponse struct {
	Outcome engine.Outcome  `json:"outcome" enum:"updated,shadowed"`
	Content *domain.Content `json:"content,omitempty"`
}

type DeleteResponse struct {
	Outcome engine.Outcome       `json:"outcome" enum:"deleted"`
	Shadows []string             `json:"shadows,omitempty"`
	Cascade *engine.FocusCascade `json:"cascade,omitempty"`
}

type APIKeyResponse struct {
	domain.APIKey
	// Key is only returned once, at creation.
	Key string `json:"key,omitempty"`
}

type ActorListResponse struct {
	Items []domain.ActorRecord `json:"items"`
}

type APIKeyListResponse struct {
	Items []domain.APIKey `json:"items"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func kindResponses(ds []kinds.Descriptor) []KindResponse {
	out := make([]KindResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, KindResponse{Kind: d.Kind, MediaFolder: d.MediaFolder, Tagged: d.Tagged, Taxonomy: d.Taxonomy})
	}
	return out
}

func contentList(page repo.ContentPage, f repo.ContentFilters) ContentListResponse {
	items := page.Items
	if items == nil {
		items = []domain.Content{}
	}
	return ContentListResponse{Items: items, Total: page.Total, Page: f.Page, Limit: f.Limit}
}
