// Package validation checks targeting rule sets for structural errors,
// cross-rule conflicts and performance hazards.
package validation

// Severity classifies a validation issue. Only errors make a result invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is one finding.
type ValidationIssue struct {
	Severity      Severity `json:"severity"`
	Message       string   `json:"message"`
	RuleID        string   `json:"rule_id,omitempty"`
	ConditionPath string   `json:"condition_path,omitempty"`
	Suggestion    string   `json:"suggestion,omitempty"`
}

// ValidationResult holds the result of validation
type ValidationResult struct {
	IsValid             bool              `json:"is_valid"`
	Issues              []ValidationIssue `json:"issues"`
	ComplexityScore     int               `json:"complexity_score"`
	PerformanceWarnings []string          `json:"performance_warnings"`
}

// NewValidationResult creates a new validation result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		IsValid:             true,
		Issues:              []ValidationIssue{},
		PerformanceWarnings: []string{},
	}
}

// Add records an issue; an error marks the result as invalid.
func (v *ValidationResult) Add(issue ValidationIssue) {
	if issue.Severity == SeverityError {
		v.IsValid = false
	}
	v.Issues = append(v.Issues, issue)
}

// AddError adds an error-severity issue and marks the result as invalid
func (v *ValidationResult) AddError(ruleID, path, message string) {
	v.Add(ValidationIssue{Severity: SeverityError, RuleID: ruleID, ConditionPath: path, Message: message})
}

// AddWarning adds a warning-severity issue.
func (v *ValidationResult) AddWarning(ruleID, path, message, suggestion string) {
	v.Add(ValidationIssue{Severity: SeverityWarning, RuleID: ruleID, ConditionPath: path, Message: message, Suggestion: suggestion})
}

// AddInfo adds an informational issue.
func (v *ValidationResult) AddInfo(ruleID, path, message string) {
	v.Add(ValidationIssue{Severity: SeverityInfo, RuleID: ruleID, ConditionPath: path, Message: message})
}

// Merge combines another validation result into this one
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, issue := range other.Issues {
		v.Add(issue)
	}
	v.ComplexityScore += other.ComplexityScore
	v.PerformanceWarnings = append(v.PerformanceWarnings, other.PerformanceWarnings...)
}

// BySeverity returns the issues with severity s, in order.
func (v *ValidationResult) BySeverity(s Severity) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range v.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// Errors returns error-severity issues.
func (v *ValidationResult) Errors() []ValidationIssue { return v.BySeverity(SeverityError) }

// Warnings returns warning-severity issues.
func (v *ValidationResult) Warnings() []ValidationIssue { return v.BySeverity(SeverityWarning) }
