package domain

// Change event names, mirroring the mutation that produced them
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// ChangeEvent is the strongly typed form of one change-feed item
type ChangeEvent struct {
	Name     string
	Sequence int64
	Record   JobRecord
}

// IsCreation reports whether the event announces a new job that still needs a Worker.
// Completion mutations never qualify. When the feed does not name the mutation the
// record status decides.
func (e *ChangeEvent) IsCreation() bool {
	if e.Record.Completed() {
		return false
	}

	switch e.Name {
	case EventInsert:
		return true
	case "":
		return e.Record.Status == "" || e.Record.Status == JobStatusPending
	default:
		return false
	}
}

// Params extracts the Worker execution parameters carried by the event
func (e *ChangeEvent) Params() JobParams {
	return JobParams{
		JobID:         e.Record.ID,
		InputText:     Deref(e.Record.InputText),
		InputFilePath: Deref(e.Record.InputFilePath),
	}
}
