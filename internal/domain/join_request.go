package domain

import "time"

// PendingRequest is the persisted record of one in-flight admission attempt.
// At most one row exists per (community, applicant); the row's existence
// implies a live or about-to-be-started verification saga.
type PendingRequest struct {
	CommunityID     int64     `json:"community_id"`
	ApplicantID     int64     `json:"applicant_id"`
	ApplicantChatID int64     `json:"applicant_chat_id"` // private chat used for applicant messages
	ApplicantBio    string    `json:"applicant_bio"`
	Date            time.Time `json:"date"`
	Deadline        time.Time `json:"deadline"`
	SagaID          string    `json:"saga_id"`
}

// AdmissionRequest is an inbound "wants to join" event from the messaging
// platform, before any persistence.
type AdmissionRequest struct {
	CommunityID     int64  `json:"community_id"`
	ApplicantID     int64  `json:"applicant_id"`
	ApplicantChatID int64  `json:"applicant_chat_id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Username        string `json:"username"`
	Bio             string `json:"bio"`
}

// DisplayName renders the applicant's human-readable name the way the
// messaging platform would.
func (r AdmissionRequest) DisplayName() string {
	name := r.FirstName
	if r.LastName != "" {
		if name != "" {
			name += " "
		}
		name += r.LastName
	}
	if name != "" {
		return name
	}
	if r.Username != "" {
		return r.Username
	}
	return ""
}
