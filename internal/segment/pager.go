package segment

import (
	"fmt"

	"github.com/mailtide/mailtide/internal/models"
)

// DefaultOverscan is the multiplier applied to the requested limit when
// fetching candidates for tag-based segments, which are filtered
// client-side.
const DefaultOverscan = 5

// RecipientSource is the slice of the recipient store the pager needs.
type RecipientSource interface {
	ListPage(tenantID string, afterID int64, limit int, activeOnly bool) ([]models.Recipient, error)
	CountActive(tenantID string) (int64, error)
}

// Pager walks a tenant's recipients in strictly increasing id order,
// resumable from an opaque cursor (the last-seen recipient id). For a
// static recipient set, repeated NextBatch calls starting from cursor 0
// and advancing by each returned cursor visit every qualifying recipient
// exactly once.
type Pager struct {
	recipients RecipientSource
	overscan   int
}

func NewPager(recipients RecipientSource) *Pager {
	return &Pager{recipients: recipients, overscan: DefaultOverscan}
}

// NextBatch returns the next batch of segment members after the cursor
// and the cursor to resume from. A zero-length batch with an unchanged
// cursor means the segment is exhausted.
//
// For "all" segments this is a single keyset query filtered to active
// status. For tag segments it fetches limit×overscan candidates in id
// order, applies Matches, and returns every match found in that window —
// not capped at limit. Capping and advancing the cursor to the last
// *returned* match would skip the non-matching rows sitting between
// matches that were never re-examined; instead the cursor always
// advances to the last candidate examined.
func (p *Pager) NextBatch(tenantID string, seg *models.Segment, cursor int64, limit int) ([]models.Recipient, int64, error) {
	if limit <= 0 {
		limit = 100
	}

	if seg.Rule.Type == models.RuleAll {
		batch, err := p.recipients.ListPage(tenantID, cursor, limit, true)
		if err != nil {
			return nil, cursor, fmt.Errorf("fetch recipient page: %w", err)
		}
		if len(batch) == 0 {
			return nil, cursor, nil
		}
		return batch, batch[len(batch)-1].ID, nil
	}

	candidates, err := p.recipients.ListPage(tenantID, cursor, limit*p.overscan, true)
	if err != nil {
		return nil, cursor, fmt.Errorf("fetch recipient page: %w", err)
	}
	if len(candidates) == 0 {
		return nil, cursor, nil
	}

	matches := make([]models.Recipient, 0, limit)
	for i := range candidates {
		if Matches(seg.Rule, &candidates[i]) {
			matches = append(matches, candidates[i])
		}
	}

	return matches, candidates[len(candidates)-1].ID, nil
}

// Count walks the whole segment and returns the number of members. Used
// to snapshot a job's total before dispatch starts.
func (p *Pager) Count(tenantID string, seg *models.Segment) (int64, error) {
	if seg.Rule.Type == models.RuleAll {
		return p.recipients.CountActive(tenantID)
	}

	var total int64
	cursor := int64(0)
	for {
		batch, next, err := p.NextBatch(tenantID, seg, cursor, 500)
		if err != nil {
			return 0, err
		}
		total += int64(len(batch))
		if next == cursor {
			return total, nil
		}
		cursor = next
	}
}
