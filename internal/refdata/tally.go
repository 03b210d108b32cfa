package refdata

// Tally summarizes one import run. It is transient: computed per run,
// returned to the caller, never persisted.
//
// RowsRead counts every row actually pulled from the stream, including rows
// that end up skipped. Each accepted row increments exactly one of
// RecordsInserted or RecordsUpdated.
type Tally struct {
	RowsRead            int `json:"rowsRead"`
	RecordsInserted     int `json:"recordsInserted"`
	IdentifiersInserted int `json:"identifiersInserted"`
	RecordsUpdated      int `json:"recordsUpdated"`
	Skipped             int `json:"skipped"`
}
