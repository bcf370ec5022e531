package ledger

// Envelope is the outer shape of every message the ledger pushes over its
// event stream: data is itself a JSON-encoded string, not a nested object,
// matching the wire format the ledger's original Python service emits.
type Envelope struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// RoundStartedData is the payload of a ROUND_STARTED event.
type RoundStartedData struct {
	RoundID     string `json:"round_id"`
	Initiator   string `json:"initiator"`
	Description string `json:"description"`
}

// ModelUploadedData is the payload of a MODEL_UPLOADED event.
type ModelUploadedData struct {
	RoundID   string `json:"round_id"`
	BankID    string `json:"bank_id"`
	ModelURI  string `json:"model_uri"`
}

// StartAggregationData is the payload of the legacy START_AGGREGATION event.
type StartAggregationData struct {
	RoundID     string            `json:"round_id"`
	Submissions map[string]string `json:"submissions"`
}

const (
	EventRoundStarted     = "ROUND_STARTED"
	EventModelUploaded    = "MODEL_UPLOADED"
	EventStartAggregation = "START_AGGREGATION"
)
