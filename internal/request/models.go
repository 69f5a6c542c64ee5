package request

import "time"

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AllowedVideoDurations are the selectable video lengths in seconds.
var AllowedVideoDurations = []int{5, 10, 15, 20}

// MaxPromptRunes caps prompt length in code points to bound storage and
// rendering cost.
const MaxPromptRunes = 2000

// Request is a user's generation request, fulfilled out-of-band by an
// operator. Completed and failed are terminal: no row ever returns to
// pending, ResultURI is set exactly once at the pending->completed
// transition and empty before it.
type Request struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	RequesterKey     string `gorm:"type:varchar(64);index;not null" json:"-"`
	RequesterName    string `gorm:"type:varchar(128);not null" json:"requester_name"`
	RequesterContact string `gorm:"type:varchar(128);not null" json:"requester_contact"`

	Kind Kind `gorm:"type:varchar(16);not null" json:"kind"`

	// seconds; set iff Kind == video
	VideoDuration *int `json:"video_duration,omitempty"`

	Prompt string `gorm:"type:text;not null" json:"prompt"`

	Status Status `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled at the transition to completed
	ResultURI string `gorm:"type:text" json:"result_uri,omitempty"`

	// Filled when failed
	FailReason *string `gorm:"type:text" json:"fail_reason,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Request) TableName() string { return "generation_requests" }

func validDuration(seconds int) bool {
	for _, d := range AllowedVideoDurations {
		if seconds == d {
			return true
		}
	}
	return false
}
