package identity

import (
	"github.com/google/uuid"
)

// MaxBulkItems caps the ids accepted by one bulk call
const MaxBulkItems = 100

// BulkItemResult is the outcome for one id of a bulk call
type BulkItemResult struct {
	ID      uuid.UUID `json:"id"`
	Success bool      `json:"success"`
	Kind    Kind      `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// BulkResult aggregates a bulk call. Items keep the order of the input ids.
type BulkResult struct {
	Processed int              `json:"processed"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Items     []BulkItemResult `json:"items"`
}

// runBulk applies fn to every id; a failing id never stops the others
func runBulk(ids []uuid.UUID, fn func(id uuid.UUID) error) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, newError(KindValidation, "at least one id is required")
	}
	if len(ids) > MaxBulkItems {
		return nil, newError(KindValidation, "at most %d ids can be processed at once", MaxBulkItems)
	}

	res := &BulkResult{Items: make([]BulkItemResult, 0, len(ids))}
	for _, id := range ids {
		item := BulkItemResult{ID: id, Success: true}
		if err := fn(id); err != nil {
			item.Success = false
			item.Kind = KindOf(err)
			item.Error = err.Error()
			res.Failed++
		} else {
			res.Succeeded++
		}
		res.Processed++
		res.Items = append(res.Items, item)
	}
	return res, nil
}
