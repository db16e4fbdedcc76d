package ledger

import (
	"context"
	"fmt"

	"github.com/mystartupai/creditledger/internal/models"
)

// AuditMismatch is a ledger entry whose recorded balance disagrees with the replay.
type AuditMismatch struct {
	TransactionID uint64 `json:"transactionId"`
	Recorded      int64  `json:"recorded"`
	Replayed      int64  `json:"replayed"`
}

// AuditReport is the result of replaying a user's ledger.
type AuditReport struct {
	UserID        uint64          `json:"userId"`
	Credits       int64           `json:"credits"`
	ReplayBalance int64           `json:"replayBalance"`
	Entries       int             `json:"entries"`
	WentNegative  bool            `json:"wentNegative"`
	Mismatches    []AuditMismatch `json:"mismatches,omitempty"`
}

// Consistent reports whether the replay reproduces the cached balance.
func (r AuditReport) Consistent() bool {
	return len(r.Mismatches) == 0 && !r.WentNegative && r.ReplayBalance == r.Credits
}

const auditBatchSize = 500

// Audit replays the user's entries in id order and compares every running total
// with the recorded balance and the final total with users.credits.
func (s *Store) Audit(ctx context.Context, userID uint64) (AuditReport, error) {
	user, errGet := s.GetUser(ctx, userID)
	if errGet != nil {
		return AuditReport{}, errGet
	}
	report := AuditReport{UserID: userID, Credits: user.Credits}

	var lastID uint64
	for {
		var batch []models.CreditTransaction
		if errFind := s.db.WithContext(ctx).
			Where("user_id = ? AND id > ?", userID, lastID).
			Order("id ASC").
			Limit(auditBatchSize).
			Find(&batch).Error; errFind != nil {
			return AuditReport{}, fmt.Errorf("ledger: audit: %w", errFind)
		}
		for _, entry := range batch {
			report.ReplayBalance += entry.Amount
			report.Entries++
			if report.ReplayBalance < 0 {
				report.WentNegative = true
			}
			if entry.Balance != report.ReplayBalance {
				report.Mismatches = append(report.Mismatches, AuditMismatch{
					TransactionID: entry.ID,
					Recorded:      entry.Balance,
					Replayed:      report.ReplayBalance,
				})
			}
			lastID = entry.ID
		}
		if len(batch) < auditBatchSize {
			break
		}
	}
	return report, nil
}
