package domain

// UserStatus is the per-user projection served to the mini app: the
// communities the user administers, with their open requests and stored
// answers, plus the user's own open applications. Photo fields carry
// encrypted file identifiers resolvable through the file proxy.
type UserStatus struct {
	Admins   []AdminCommunityStatus   `json:"admins"`
	Requests []ApplicantRequestStatus `json:"requests"`
}

// AdminCommunityStatus is one community as seen by one of its
// administrators.
type AdminCommunityStatus struct {
	ID        int64             `json:"id"`
	Title     string            `json:"title"`
	Photo     string            `json:"photo,omitempty"`
	Config    *CommunityConfig  `json:"config"`
	Requests  []CandidateStatus `json:"requests"`
	Responses []AnswerView      `json:"responses"`
}

// CandidateStatus is one pending applicant shown to an administrator.
// Date and Deadline are unix milliseconds.
type CandidateStatus struct {
	User     int64  `json:"user"`
	UserBio  string `json:"userBio"`
	Title    string `json:"title"`
	Photo    string `json:"photo,omitempty"`
	Date     int64  `json:"date"`
	Deadline int64  `json:"deadline"`
}

// AnswerView is a stored answer rendered for the administrator view,
// with the date in unix milliseconds.
type AnswerView struct {
	User     int64  `json:"user"`
	Date     int64  `json:"date"`
	Answer   string `json:"answer"`
	Details  string `json:"details"`
	Question string `json:"question"`
}

// ApplicantRequestStatus is one of the user's own open applications.
type ApplicantRequestStatus struct {
	ID                int64             `json:"id"`
	Question          string            `json:"question"`
	AnswerConstraints AnswerConstraints `json:"answer_constraints"`
	Title             string            `json:"title"`
	Photo             string            `json:"photo,omitempty"`
	Answered          bool              `json:"answered"`
}

// PendingSummary names the community behind an applicant's newest
// unanswered request, used to route direct-message answers.
type PendingSummary struct {
	CommunityID int64  `json:"id"`
	Title       string `json:"title"`
}
