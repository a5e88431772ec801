package record

import "time"

// Engagement is a countable interaction type on a post.
type Engagement string

const (
	EngagementLike     Engagement = "like"
	EngagementRepost   Engagement = "repost"
	EngagementReaction Engagement = "reaction"
	EngagementComment  Engagement = "comment"
)

// engagementAllowList is the fixed set of valid engagement types.
var engagementAllowList = map[Engagement]bool{
	EngagementLike:     true,
	EngagementRepost:   true,
	EngagementReaction: true,
	EngagementComment:  true,
}

// CampaignStatus is the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// ApplicationStatus is the lifecycle status of a creator application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// platformAllowList is the fixed, case-sensitive set of supported platforms.
var platformAllowList = map[string]bool{
	"nostr":     true,
	"twitter":   true,
	"instagram": true,
	"tiktok":    true,
	"youtube":   true,
}

// Campaign is a payment campaign published by a business identity.
// Budget and all rates are integers in the smallest currency unit.
type Campaign struct {
	Business     string                // Business is the publisher's hex public key
	ID           string                // ID is the campaign's local identifier
	Title        string                // Title is the campaign title
	Description  string                // Description is optional free text
	Budget       int64                 // Budget is the total budget
	Rates        map[Engagement]int64  // Rates is the per-engagement payout table
	Platforms    []string              // Platforms lists supported platforms
	Start        time.Time             // Start is the campaign start
	End          time.Time             // End is the campaign end
	MinFollowers int64                 // MinFollowers is an optional constraint (0 = none)
	MaxPosts     int64                 // MaxPosts is an optional constraint (0 = none)
	Status       CampaignStatus        // Status is the lifecycle status
}

// Ref returns the campaign reference used by applications and reports:
// "businessPubkey:campaignID".
func (c *Campaign) Ref() string {
	return c.Business + ":" + c.ID
}

// Application is a creator's application to a campaign.
type Application struct {
	Creator   string            // Creator is the publisher's hex public key
	ID        string            // ID is the application's local identifier
	Campaign  string            // Campaign is the campaign reference ("business:campaignID")
	Business  string            // Business is the target business identity
	Handles   map[string]string // Handles maps platform to handle
	Followers map[string]int64  // Followers maps platform to follower-count snapshot
	Message   string            // Message is the free-text application body
	Status    ApplicationStatus // Status is the lifecycle status
}

// PerformanceReport is a creator's claim of delivered engagement.
type PerformanceReport struct {
	Creator       string               // Creator is the publisher's hex public key
	ID            string               // ID is the report's local identifier
	Campaign      string               // Campaign is the campaign reference
	Business      string               // Business is the identity expected to verify and pay
	Platform      string               // Platform is where the post was published
	PostURL       string               // PostURL locates the post
	PostRef       string               // PostRef optionally cross-references the post record
	Metrics       map[Engagement]int64 // Metrics maps engagement type to claimed count
	AmountClaimed int64                // AmountClaimed is the claimed payout
	Notes         string               // Notes is the free-text report body
}

// Identity returns the report's replaceable identity: "creator:reportID".
// Verification and PaymentClaim records reference reports by this value.
func (r *PerformanceReport) Identity() string {
	return r.Creator + ":" + r.ID
}

// Verification is a business's claim that a report checks out.
type Verification struct {
	Business  string // Business is the publisher's hex public key
	EventID   string // EventID is the verification record's own ID
	ReportRef string // ReportRef is the referenced report identity
	Verified  bool   // Verified is the payload flag
}

// PaymentClaim is a business's claim of payment for a report.
// The preimage is an opaque proof token; settlement is not verified here.
type PaymentClaim struct {
	Business  string // Business is the publisher's hex public key
	EventID   string // EventID is the payment record's own ID
	ReportRef string // ReportRef is the referenced report identity
	Preimage  string // Preimage is the proof token
}
