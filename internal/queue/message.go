package queue

import (
	"fmt"
	"strconv"
	"strings"
)

// ItemMessage is the broker payload for item processing. It carries
// identifiers only; workers load the item from the database.
type ItemMessage struct {
	ItemID        int64  `json:"itemId"`
	BatchID       string `json:"batchId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m ItemMessage) Validate() error {
	if m.ItemID <= 0 {
		return fmt.Errorf("itemId must be positive")
	}
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	return nil
}

func (m ItemMessage) messageID() string {
	return strconv.FormatInt(m.ItemID, 10)
}
