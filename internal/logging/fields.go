package logging

// Standard field names for structured run logging.
const (
	FieldRunID    = "run_id"
	FieldDomain   = "domain"
	FieldMode     = "mode"
	FieldPage     = "page"
	FieldAttempt  = "attempt"
	FieldCount    = "count"
	FieldRows     = "rows"
	FieldColumns  = "columns"
	FieldState    = "state"
	FieldExitCode = "exit_code"
	FieldError    = "error"
	FieldFile     = "file"
	FieldCaseDir  = "case_dir"
	FieldDuration = "duration_ms"

	FieldMaxAttempts = "max_attempts"
	FieldMaxPages    = "max_pages"
	FieldDelay       = "delay"
	FieldWait        = "wait"
	FieldDir         = "dir"
	FieldFiles       = "files"
	FieldDropped     = "dropped"
	FieldDelimiter   = "delimiter"
	FieldFrom        = "from"
	FieldTo          = "to"
)
