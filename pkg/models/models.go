package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system. The set is closed: every
// switch over Role should handle all four values explicitly.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleLawyer  Role = "lawyer"
	RolePolice  Role = "police"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleLawyer, RolePolice, RoleAdmin:
		return true
	}
	return false
}

// VerificationStatus tracks manual identity review for lawyers and police.
// Citizens are verified at signup.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// CaseStatus defines lifecycle states for a case. Private cases and FIRs
// share one vocabulary; which states are reachable depends on ComplaintType.
type CaseStatus string

const (
	CaseDraft                CaseStatus = "Draft"
	CasePendingAcceptance    CaseStatus = "Pending Acceptance"
	CaseAwaitingPoliceReview CaseStatus = "Awaiting Police Review"
	CaseActiveInvestigation  CaseStatus = "Active Investigation"
	CaseClosedNCR            CaseStatus = "Closed (NCR)"
	CaseRejectedByPolice     CaseStatus = "Rejected by Police"
	CasePaymentPending       CaseStatus = "Payment Pending"
	CaseActive               CaseStatus = "Active"
	CaseClosed               CaseStatus = "Closed"
)

// PoliceStatus is the officer-facing determination on an FIR. Empty for
// private legal cases. It moves in lockstep with CaseStatus; the pair is
// only ever written together in one update.
type PoliceStatus string

const (
	PoliceStatusPending  PoliceStatus = "Pending"
	PoliceStatusApproved PoliceStatus = "Approved"
	PoliceStatusNCR      PoliceStatus = "NCR"
	PoliceStatusRejected PoliceStatus = "Rejected"
)

// ComplaintType splits the private legal track from the police FIR track.
type ComplaintType string

const (
	ComplaintPrivateLegal ComplaintType = "private_legal"
	ComplaintPoliceFIR    ComplaintType = "police_fir"
)

// EmergencyCategory is the nature of an SOS event.
type EmergencyCategory string

const (
	EmergencyPolice  EmergencyCategory = "police"
	EmergencyMedical EmergencyCategory = "medical"
)

// LocationSource records which step of the fallback chain produced an
// emergency's coordinates.
type LocationSource string

const (
	LocationDevice  LocationSource = "device"
	LocationIP      LocationSource = "ip"
	LocationSearch  LocationSource = "search"
	LocationDefault LocationSource = "default"
)

// PayStatus defines lifecycle states for a payment.
type PayStatus string

const (
	PayInitiated PayStatus = "initiated"
	PayPaid      PayStatus = "paid"
	PayFailed    PayStatus = "failed"
)

// Severity classifies a notification for display purposes.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

/* =============================== Entities =============================== */

// Profile represents a registered principal: citizen, lawyer, police or admin.
type Profile struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"type:varchar(20);not null" json:"role"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`

	// Manual review state; pending until an admin decides (citizens skip this).
	VerificationStatus VerificationStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"verification_status"`

	// Role-specific credentials.
	BarNumber   string `json:"bar_number,omitempty"`
	BadgeNumber string `json:"badge_number,omitempty"`
	StationCode string `json:"station_code,omitempty"`

	// Object key of the identity document in storage, never a raw URL.
	IDDocumentKey string `json:"id_document_key,omitempty"`

	// Lawyer fee used when accepting a case, in cents.
	FeeCents int `json:"fee_cents,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Case represents a citizen-initiated legal matter or a police FIR.
// Rows are never hard-deleted; terminal states stay on the record.
type Case struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`

	// Assigned handler: a lawyer on a private case, or the police principal an
	// FIR is routed to. The role tag disambiguates instead of overloading one
	// foreign key across two meanings.
	AssignedToID *uuid.UUID `gorm:"type:uuid;index" json:"assigned_to_id,omitempty"`
	AssignedRole Role       `gorm:"type:varchar(20)" json:"assigned_role,omitempty"`

	Category     string        `gorm:"not null" json:"category"`
	CaseType     string        `json:"case_type"`
	Title        string        `gorm:"not null" json:"title"`
	Description  string        `json:"description"`
	IncidentDate *time.Time    `json:"incident_date,omitempty"`
	Location     string        `json:"location"`
	BudgetRange  string        `json:"budget_range,omitempty"`
	ComplaintType ComplaintType `gorm:"type:varchar(20);not null;default:'private_legal'" json:"complaint_type"`

	Status       CaseStatus   `gorm:"type:varchar(30);not null;default:'Draft'" json:"status"`
	PoliceStatus PoliceStatus `gorm:"type:varchar(20)" json:"police_status,omitempty"`

	// Per-actor attachment lists. Appends are atomic array_append updates so
	// concurrent uploads from different actors never clobber each other.
	Evidence        pq.StringArray `gorm:"type:text[]" json:"evidence"`
	LawyerDocuments pq.StringArray `gorm:"type:text[]" json:"lawyer_documents"`
	PoliceDocuments pq.StringArray `gorm:"type:text[]" json:"police_documents"`

	// Fee agreed at acceptance, in cents; charged at checkout.
	FeeCents int `json:"fee_cents,omitempty"`

	// Set when a closed/rejected FIR spawns a private case (and vice versa).
	RelatedCaseID *uuid.UUID `gorm:"type:uuid" json:"related_case_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmergencyEvent is a write-once SOS report. Status is advanced by a dispatch
// process outside this service.
type EmergencyEvent struct {
	ID         uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReporterID uuid.UUID         `gorm:"type:uuid;not null;index" json:"reporter_id"`
	Category   EmergencyCategory `gorm:"type:varchar(20);not null" json:"category"`
	Topic      string            `json:"topic"`
	Description string           `json:"description"`

	Latitude       float64        `gorm:"not null" json:"latitude"`
	Longitude      float64        `gorm:"not null" json:"longitude"`
	LocationLabel  string         `json:"location_label"`
	LocationSource LocationSource `gorm:"type:varchar(20);not null" json:"location_source"`

	Status   string `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Priority string `gorm:"type:varchar(20);not null;default:'critical'" json:"priority"`

	CreatedAt time.Time `json:"created_at"`
}

func (EmergencyEvent) TableName() string { return "emergencies" }

// Notification is a directed in-app message. Creation is best-effort and
// must never block the mutation that triggered it.
type Notification struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RecipientID uuid.UUID `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Title       string    `gorm:"not null" json:"title"`
	Body        string    `json:"body"`
	Severity    Severity  `gorm:"type:varchar(20);not null;default:'info'" json:"severity"`
	Link        string    `json:"link,omitempty"`
	Read        bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payment represents a payment attempt for an accepted case.
type Payment struct {
	ID      uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CaseID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"case_id"`
	PayerID uuid.UUID `gorm:"type:uuid;not null" json:"payer_id"`

	Provider              string  `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderSessionID     *string `gorm:"uniqueIndex:ux_pay_session_filled" json:"provider_session_id,omitempty"`
	ProviderPaymentIntent *string `gorm:"uniqueIndex:ux_pay_intent_filled" json:"provider_payment_intent,omitempty"`

	AmountCents int       `gorm:"not null" json:"amount_cents"` // cents to avoid float issues
	Status      PayStatus `gorm:"type:varchar(20);default:'initiated'" json:"status"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// CaseHistory is an audit log entry for important case changes.
type CaseHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CaseID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	Action    string     `gorm:"type:varchar(50);not null"` // e.g. created, submitted, accepted, paid, police_review, closed
	OldStatus CaseStatus `gorm:"type:varchar(30)"`
	NewStatus CaseStatus `gorm:"type:varchar(30)"`
	Reason    string     `gorm:"type:text"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

// ContactMessage is a public contact-form submission.
type ContactMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `gorm:"not null" json:"email"`
	Subject   string    `json:"subject"`
	Body      string    `gorm:"not null" json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// LocationSafety is an aggregated area safety score for the public crime map.
type LocationSafety struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Area          string    `gorm:"not null" json:"area"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	SafetyScore   int       `json:"safety_score"`
	IncidentCount int       `json:"incident_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (LocationSafety) TableName() string { return "location_safety" }
