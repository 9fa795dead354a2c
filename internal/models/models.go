package models

import "time"

type CourseStatus string

const (
	CourseSetup     CourseStatus = "setup"
	CourseActive    CourseStatus = "active"
	CourseCompleted CourseStatus = "completed"
	CourseRefused   CourseStatus = "refused"
	CourseExpired   CourseStatus = "expired"
	CourseAppeal    CourseStatus = "appeal"
)

// Terminal reports whether no further lifecycle transition applies.
func (s CourseStatus) Terminal() bool {
	return s == CourseCompleted || s == CourseRefused || s == CourseExpired
}

type IntakeStatus string

const (
	IntakePending       IntakeStatus = "pending"
	IntakeTaken         IntakeStatus = "taken"
	IntakeLate          IntakeStatus = "late"
	IntakeMissed        IntakeStatus = "missed"
	IntakePendingReview IntakeStatus = "pending_review"
	IntakeRejected      IntakeStatus = "rejected"
	IntakeReshoot       IntakeStatus = "reshoot"
)

func (s IntakeStatus) Terminal() bool {
	return s == IntakeTaken || s == IntakeLate || s == IntakeMissed
}

// Success reports whether the day counts toward completion.
// Late days complete the day but still carry a strike.
func (s IntakeStatus) Success() bool {
	return s == IntakeTaken || s == IntakeLate
}

// RemovalReason records why a course left active/appeal for a penalty state.
type RemovalReason string

const (
	RemovalNoSubmission   RemovalReason = "no_submission"
	RemovalMaxStrikes     RemovalReason = "max_strikes"
	RemovalReviewerReject RemovalReason = "reviewer_reject"
	RemovalReviewDeadline RemovalReason = "review_deadline"
	RemovalReshootExpired RemovalReason = "reshoot_expired"
	RemovalAppealDeclined RemovalReason = "appeal_declined"
	RemovalAppealExpired  RemovalReason = "appeal_expired"
)

// Appealable reasons allow the participant a bounded appeal detour.
func (r RemovalReason) Appealable() bool {
	return r == RemovalNoSubmission || r == RemovalMaxStrikes
}

const MaxAppeals = 2

type User struct {
	ID        string
	Name      string
	ManagerID string
	Contact   string
	BirthDate *time.Time
	CreatedAt time.Time
}

type Manager struct {
	ID        string
	Name      string
	Contact   string
	TokenHash string
	CreatedAt time.Time
}

type Course struct {
	ID             string
	UserID         string
	Status         CourseStatus
	InviteCode     string
	InviteUsed     bool
	TotalDays      int
	Extended       bool
	IntakeMinute   *int // minutes since midnight UTC; nil until activation
	StartDate      *time.Time
	CurrentDay     int
	LateCount      int
	LateDates      []string
	AppealCount    int
	AppealDeadline *time.Time
	AppealMedia    *string
	AppealText     *string
	RemovalReason  *RemovalReason
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExpectedDay is the day number the participant is due to submit next.
func (c Course) ExpectedDay() int { return c.CurrentDay + 1 }

type IntakeLog struct {
	ID              string
	CourseID        string
	Day             int
	Status          IntakeStatus
	ScheduledAt     *time.Time
	TakenAt         *time.Time
	DelayMinutes    *int
	MediaRef        *string
	VerifiedBy      *string
	Confidence      *float64
	ReviewStartedAt *time.Time
	ReshootDeadline *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Document struct {
	ID        string
	CourseID  string
	UserID    string
	Kind      string
	MediaRef  string
	CreatedAt time.Time
}

type PaymentReceipt struct {
	ID        string
	CourseID  string
	UserID    string
	MediaRef  string
	Note      string
	CreatedAt time.Time
}
