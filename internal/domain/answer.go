package domain

import "time"

// AnswerRecord stores an applicant's accepted answer for one admission
// attempt. Superseding requests erase any prior record for the same pair
// before a new saga starts.
type AnswerRecord struct {
	CommunityID int64     `json:"community_id"`
	ApplicantID int64     `json:"applicant_id"`
	Question    string    `json:"question"` // question text as asked, echoed for the admin view
	Answer      string    `json:"answer"`
	Details     string    `json:"details"` // opaque submission metadata blob
	Date        time.Time `json:"date"`
}
