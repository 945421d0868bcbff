package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBankSync syncs booked transactions for one account, or for every
	// sync-eligible account when the payload names none.
	TaskBankSync = "bank:sync"
	// TaskRequisitionCleanup removes failed and abandoned requisitions.
	TaskRequisitionCleanup = "linking:cleanup"
)

// BankSyncPayload selects what to sync. An empty BankAccountID means every
// sync-eligible account.
type BankSyncPayload struct {
	BankAccountID string `json:"bank_account_id,omitempty"`
}

// NewBankSyncTask constructs an Asynq task.
func NewBankSyncTask(payload BankSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBankSync, data), nil
}

// NewRequisitionCleanupTask constructs an Asynq task.
func NewRequisitionCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskRequisitionCleanup, nil)
}
