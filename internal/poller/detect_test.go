package poller_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/poller"
)

func batch(ids ...crm.ID) []crm.Message {
	out := make([]crm.Message, len(ids))
	for i, id := range ids {
		out[i] = crm.Message{ID: id}
	}
	return out
}

func TestDetect(t *testing.T) {
	tracking := func(id crm.ID) poller.Watermark { return poller.Watermark{ID: id, Valid: true} }

	tests := []struct {
		name    string
		prev    poller.Watermark
		batch   []crm.Message
		want    poller.Watermark
		wantMsg crm.ID
		wantNil bool
	}{
		{name: "empty batch uninitialised", prev: poller.Watermark{}, batch: nil, want: poller.Watermark{}, wantNil: true},
		{name: "empty batch tracking", prev: tracking(9), batch: batch(), want: tracking(9), wantNil: true},
		{name: "bootstrap adopts max", prev: poller.Watermark{}, batch: batch(3, 8, 5), want: tracking(8), wantNil: true},
		{name: "bootstrap adopts zero id", prev: poller.Watermark{}, batch: batch(0), want: tracking(0), wantNil: true},
		{name: "newer unsorted batch", prev: tracking(5), batch: batch(6, 9, 7), want: tracking(9), wantMsg: 9},
		{name: "equal id", prev: tracking(9), batch: batch(9), want: tracking(9), wantNil: true},
		{name: "older id", prev: tracking(9), batch: batch(2, 4), want: tracking(9), wantNil: true},
		{name: "numeric not lexical", prev: tracking(9), batch: batch(10), want: tracking(10), wantMsg: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := poller.Detect(tt.prev, tt.batch)
			assert.Equal(t, tt.want, got)
			if tt.wantNil {
				assert.Nil(t, msg)
				return
			}
			require.NotNil(t, msg)
			assert.Equal(t, tt.wantMsg, msg.ID)
		})
	}
}

func TestDetect_TieKeepsFirst(t *testing.T) {
	b := []crm.Message{
		{ID: 4, Text: "first"},
		{ID: 7, Text: "winner"},
		{ID: 7, Text: "duplicate"},
	}

	_, msg := poller.Detect(poller.Watermark{ID: 1, Valid: true}, b)
	require.NotNil(t, msg)
	assert.Equal(t, "winner", msg.Text)
}

func TestDetect_Monotonic(t *testing.T) {
	w := poller.Watermark{}
	for _, b := range [][]crm.Message{batch(5), batch(3), batch(7), batch(6), batch(7), batch(12, 1)} {
		next, _ := poller.Detect(w, b)
		if w.Valid {
			assert.GreaterOrEqual(t, next.ID, w.ID)
		}
		w = next
	}
	assert.Equal(t, crm.ID(12), w.ID)
}
