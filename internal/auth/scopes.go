package auth

// Scopes granted to assessment API clients.
const (
	ScopeAssessmentsWrite = "assessments:write"
	ScopeAssessmentsRead  = "assessments:read"
)

// AllScopes lists every scope the API checks.
var AllScopes = []string{ScopeAssessmentsWrite, ScopeAssessmentsRead}
