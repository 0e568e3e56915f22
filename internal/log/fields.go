package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldSubsystem  = "subsystem"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRoute      = "route"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorType  = "error_type"
	FieldOperation  = "operation"
	FieldRecordID   = "record_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentRateLimit = "rate_limit"
	ComponentMetrics   = "metrics"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpList     = "list"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpTotal    = "total"
	OpSummary  = "summary"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeNotFound   = "not_found_error"
	ErrorTypeStorage    = "storage_error"
	ErrorTypeInternal   = "internal_error"
)

// Fields provides a builder for structured log attributes
type Fields map[string]any

// NewFields creates an empty Fields
func NewFields() Fields {
	return make(Fields)
}

// WithOperation adds operation field
func (f Fields) WithOperation(op string) Fields {
	f[FieldOperation] = op
	return f
}

// WithRecord adds the record id
func (f Fields) WithRecord(id string) Fields {
	if id != "" {
		f[FieldRecordID] = id
	}
	return f
}

// WithError adds error and error type fields
func (f Fields) WithError(err error, errorType string) Fields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = errorType
	}
	return f
}

// ToSlice converts Fields to key/value pairs for slog
func (f Fields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
