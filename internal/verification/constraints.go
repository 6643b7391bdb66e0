package verification

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"gatekeeper-backend/internal/domain"
)

// ViolationCode identifies which answer constraint failed.
type ViolationCode string

const (
	ViolationTooLong     ViolationCode = "too_long"
	ViolationTooFewLines ViolationCode = "too_few_lines"
)

// AnswerMetrics are the measured properties of a submitted answer.
type AnswerMetrics struct {
	Length        int `json:"length"`
	NonEmptyLines int `json:"non_empty_lines"`
}

// ValidationResult reports whether an answer satisfies a community's
// constraints. On failure, Actual/Expected describe the violated bound and
// Message is ready to show the applicant.
type ValidationResult struct {
	OK       bool          `json:"ok"`
	Code     ViolationCode `json:"error_code,omitempty"`
	Message  string        `json:"message,omitempty"`
	Actual   int           `json:"actual,omitempty"`
	Expected int           `json:"expected,omitempty"`
	Metrics  AnswerMetrics `json:"metrics"`
}

// CountAnswerLength measures an answer in codepoints, not bytes or UTF-16
// units, so multi-byte characters count as one.
func CountAnswerLength(answer string) int {
	return utf8.RuneCountInString(answer)
}

// CountNonEmptyLines counts lines that still contain content after trimming
// whitespace. Both \n and \r\n line endings are handled.
func CountNonEmptyLines(answer string) int {
	count := 0
	for _, line := range strings.Split(answer, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// ValidateAnswer checks answer against the community's constraints.
// Boundary values (exactly max length, exactly min lines) pass.
func ValidateAnswer(answer string, constraints domain.AnswerConstraints) ValidationResult {
	constraints = constraints.Normalized()
	metrics := AnswerMetrics{
		Length:        CountAnswerLength(answer),
		NonEmptyLines: CountNonEmptyLines(answer),
	}

	if metrics.Length > constraints.MaxLength {
		return ValidationResult{
			Code:     ViolationTooLong,
			Message:  fmt.Sprintf("回答过长：当前 %d 字，最多 %d 字。", metrics.Length, constraints.MaxLength),
			Actual:   metrics.Length,
			Expected: constraints.MaxLength,
			Metrics:  metrics,
		}
	}
	if metrics.NonEmptyLines < constraints.MinLines {
		return ValidationResult{
			Code:     ViolationTooFewLines,
			Message:  fmt.Sprintf("回答行数不足：当前 %d 行，至少 %d 行（按非空行统计）。", metrics.NonEmptyLines, constraints.MinLines),
			Actual:   metrics.NonEmptyLines,
			Expected: constraints.MinLines,
			Metrics:  metrics,
		}
	}
	return ValidationResult{OK: true, Metrics: metrics}
}
