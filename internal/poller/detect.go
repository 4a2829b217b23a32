// Package poller watches the CRM message feed and hands each newly observed
// message to the broadcast dispatcher.
package poller

import "github.com/crmpush/crmpush/internal/crm"

// Watermark is the highest message id already observed. The zero value is
// uninitialised.
type Watermark struct {
	ID    crm.ID
	Valid bool
}

// Detect decides what a fetched batch means relative to prev.
//
// The first batch only initialises the watermark. Afterwards a message is
// returned only when the batch's highest id is strictly greater than prev;
// ties on the highest id keep the first message seen.
func Detect(prev Watermark, batch []crm.Message) (Watermark, *crm.Message) {
	if len(batch) == 0 {
		return prev, nil
	}

	latest := 0
	for i := 1; i < len(batch); i++ {
		if batch[i].ID > batch[latest].ID {
			latest = i
		}
	}
	msg := batch[latest]

	if !prev.Valid {
		return Watermark{ID: msg.ID, Valid: true}, nil
	}
	if msg.ID > prev.ID {
		return Watermark{ID: msg.ID, Valid: true}, &msg
	}
	return prev, nil
}
