package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldGoalID        = "goal_id"
	FieldGoalName      = "goal_name"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldStorageKey    = "storage_key"
	FieldEventType     = "event_type"
	FieldRateSource    = "rate_source"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentGoals    = "goals"
	ComponentStore    = "store"
	ComponentExchange = "exchange"
	ComponentWorker   = "worker"
	ComponentSecurity = "security"
	ComponentTrace    = "trace"
	ComponentBackend  = "backend"
)

// Operations defines standard operation names
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpContribute = "contribute"
	OpPersist    = "persist"
	OpRefresh    = "refresh"
	OpPublish    = "publish"
	OpRender     = "render"
	OpShutdown   = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithGoal adds goal identity fields
func (f LogFields) WithGoal(id, name string) LogFields {
	f[FieldGoalID] = id
	if name != "" {
		f[FieldGoalName] = name
	}
	return f
}

// WithAmount adds an amount with its currency
func (f LogFields) WithAmount(amount, currency string) LogFields {
	f[FieldAmount] = amount
	f[FieldCurrency] = currency
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
