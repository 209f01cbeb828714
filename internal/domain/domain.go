package domain

// Kind names a content partition.
type Kind string

const (
	KindAffirmation Kind = "affirmation"
	KindMeditation  Kind = "meditation"
	KindSound       Kind = "sound"
	KindRitual      Kind = "ritual"
	KindBreathwork  Kind = "breathwork"
	KindPod         Kind = "pod"
	KindGratitude   Kind = "gratitude"
	KindIdea        Kind = "idea"
	KindFocus       Kind = "focus"
)

type ApprovalStatus string

const (
	StatusDraft    ApprovalStatus = "draft"
	StatusApproved ApprovalStatus = "approved"
)

// Valid reports whether s is one of the known ledger statuses.
func (s ApprovalStatus) Valid() bool {
	return s == StatusDraft || s == StatusApproved
}

type LifecycleStatus string

const (
	LifecycleActive   LifecycleStatus = "active"
	LifecycleInactive LifecycleStatus = "inactive"
	LifecycleDeleted  LifecycleStatus = "deleted"
)

// Content is a canonical content entity or, when ParentRef is set, a shadow draft of one.
type Content struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	DisplayName     string          `json:"display_name"`
	Payload         map[string]any  `json:"payload"`
	FocusIDs        []string        `json:"focus_ids,omitempty"`
	MediaFolder     string          `json:"media_folder,omitempty"`
	MediaName       string          `json:"media_name,omitempty"`
	LifecycleStatus LifecycleStatus `json:"lifecycle_status" enum:"active,inactive,deleted"`
	IsDraft         bool            `json:"is_draft"`
	ParentRef       *string         `json:"parent_ref,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedOn       string          `json:"created_on" format:"date-time"`
	ApprovedBy      *string         `json:"approved_by,omitempty"`
	ApprovedOn      *string         `json:"approved_on,omitempty" format:"date-time"`
	UpdatedOn       string          `json:"updated_on" format:"date-time"`
	DeletedOn       *string         `json:"deleted_on,omitempty" format:"date-time"`
}

func (c Content) IsShadow() bool { return c.ParentRef != nil }

func (c Content) Deleted() bool { return c.LifecycleStatus == LifecycleDeleted }

type Comment struct {
	ID           int64          `json:"id"`
	Text         *string        `json:"text"`
	AuthorID     string         `json:"author_id"`
	TS           string         `json:"ts" format:"date-time"`
	StatusAtTime ApprovalStatus `json:"status_at_time" enum:"draft,approved"`
}

// ApprovalRecord is the ledger entry paired with exactly one live content entity.
type ApprovalRecord struct {
	ID          int64          `json:"id"`
	ContentID   string         `json:"content_id"`
	ContentKind Kind           `json:"content_kind"`
	ParentRef   *string        `json:"parent_ref,omitempty"`
	Status      ApprovalStatus `json:"status" enum:"draft,approved"`
	DisplayName string         `json:"display_name"`
	Comments    []Comment      `json:"comments"`
	CreatedBy   string         `json:"created_by"`
	CreatedOn   string         `json:"created_on" format:"date-time"`
	UpdatedBy   *string        `json:"updated_by,omitempty"`
	UpdatedOn   *string        `json:"updated_on,omitempty" format:"date-time"`
	DeletedOn   *string        `json:"deleted_on,omitempty" format:"date-time"`
}

type ActorRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	LastSeenAt  string `json:"last_seen_at" format:"date-time"`
}

type UserInterests struct {
	UserID   string   `json:"user_id"`
	FocusIDs []string `json:"focus_ids"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
