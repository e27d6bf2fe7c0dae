package models

// WebhookRequest is the body accepted by POST /webhook
type WebhookRequest struct {
	TweetID        string `json:"tweet_id" binding:"required"`
	TargetUsername string `json:"target_username" binding:"required"`
	Joined         string `json:"joined,omitempty"`
	Followers      *int   `json:"followers,omitempty"`
}

// Metadata returns the request metadata with defaults for missing fields
func (r *WebhookRequest) Metadata() Metadata {
	md := DefaultMetadata()
	if r.Joined != "" {
		md.Joined = r.Joined
	}
	if r.Followers != nil {
		md.Followers = *r.Followers
	}
	return md
}

// Outcome statuses shared by both entry points
const (
	StatusAlreadyProcessed = "already_processed"
	StatusNoTweets         = "no_tweets"
	StatusSkipped          = "skipped"
	StatusPosted           = "posted"
	StatusAnalysisFailed   = "analysis_failed"
	StatusDeliveryFailed   = "delivery_failed"
	StatusInvalidRequest   = "invalid_request"
	StatusError            = "error"
)

// WebhookResponse is returned by POST /webhook
type WebhookResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
	ShareURL string `json:"share_url,omitempty"`
	Error    string `json:"error,omitempty"`
}
