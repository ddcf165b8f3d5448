package capture

// Progress event statuses, in the order they normally occur.
const (
	StatusStarting  = "starting"
	StatusPreparing = "preparing"
	StatusCapturing = "capturing"
	StatusCaptured  = "captured"
	StatusComplete  = "complete"
	StatusAnalyzing = "analyzing"
	StatusSaved     = "saved"
	StatusError     = "error"
)

// Event is one progress record pushed to the subscriber during a
// capture run.
type Event struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Photo    int      `json:"photo,omitempty"`
	Total    int      `json:"total,omitempty"`
	Folder   string   `json:"folder,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Photos   []string `json:"photos,omitempty"`
	Results  []int    `json:"results,omitempty"`
	Location string   `json:"location,omitempty"`
}

// EmitFunc receives progress events. Delivery is best effort: the
// sequence runs to completion or failure regardless of whether anyone
// is listening, and an emit must never block.
type EmitFunc func(Event)
