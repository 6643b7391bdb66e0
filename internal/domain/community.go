package domain

// Mode controls how a community handles incoming admission requests.
type Mode string

const (
	ModeForm   Mode = "FORM"
	ModePass   Mode = "PASS"
	ModeIgnore Mode = "IGNORE"
)

// Community is a chat/group the bot gatekeeps. Config is nil until an
// administrator has saved one; a nil config means the community is ignored
// regardless of the stored mode.
type Community struct {
	ID     int64            `json:"id"`
	Mode   Mode             `json:"mode"`
	Config *CommunityConfig `json:"config"`
}

// CommunityConfig is owned by community administrators and read-only to the
// verification flow.
type CommunityConfig struct {
	Question          string            `json:"question"`
	Welcome           string            `json:"welcome"`
	TimeoutSeconds    int64             `json:"timeout"`
	Prompt            PromptConfig      `json:"prompt"`
	ResponseTemplate  string            `json:"response_template"`
	AnswerConstraints AnswerConstraints `json:"answer_constraints"`
}

// PromptConfig carries the two prompt templates: one rendered into the
// applicant's private chat, one into the community chat.
type PromptConfig struct {
	TextInPrivate string `json:"text_in_private"`
	TextInGroup   string `json:"text_in_group"`
}

// AnswerConstraints bound an applicant's free-text answer.
type AnswerConstraints struct {
	MaxLength int `json:"max_length"` // counted in codepoints
	MinLines  int `json:"min_lines"`  // non-empty, whitespace-trimmed lines
}

const (
	DefaultAnswerMaxLength = 1000
	DefaultAnswerMinLines  = 1
)

// Normalized fills in defaults for unset (zero) constraint fields.
func (c AnswerConstraints) Normalized() AnswerConstraints {
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultAnswerMaxLength
	}
	if c.MinLines <= 0 {
		c.MinLines = DefaultAnswerMinLines
	}
	return c
}

// CommunityAdmin marks a user as an administrator of a community, kept in
// sync from membership updates and the periodic refresh job.
type CommunityAdmin struct {
	CommunityID int64 `json:"community_id"`
	UserID      int64 `json:"user_id"`
}

// AdminAction is a human administrator's explicit decision on an admission
// request.
type AdminAction string

const (
	AdminActionApprove AdminAction = "approved by admin"
	AdminActionDecline AdminAction = "declined by admin"
	AdminActionBan     AdminAction = "banned by admin"
)

// Valid reports whether a is one of the three known admin actions.
func (a AdminAction) Valid() bool {
	switch a {
	case AdminActionApprove, AdminActionDecline, AdminActionBan:
		return true
	}
	return false
}
