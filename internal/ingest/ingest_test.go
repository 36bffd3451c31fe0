package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

func TestMatchColumns(t *testing.T) {
	t.Run("canonical headers", func(t *testing.T) {
		cm, err := MatchColumns([]string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"})
		require.NoError(t, err)
		assert.Equal(t, ColumnMap{0, 1, 2, 3, 4, -1}, cm)
	})

	t.Run("bank export headers", func(t *testing.T) {
		cm, err := MatchColumns([]string{"Txn Ref", "Paid By", "Beneficiary", "Amt (INR)", "Value Date", "is_fraud"})
		require.NoError(t, err)
		assert.Equal(t, 0, cm.TransactionID)
		assert.Equal(t, 1, cm.SenderID)
		assert.Equal(t, 2, cm.ReceiverID)
		assert.Equal(t, 3, cm.Amount)
		assert.Equal(t, 4, cm.Timestamp)
		assert.Equal(t, 5, cm.Label)
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := MatchColumns([]string{"transaction_id", "sender_id", "receiver_id", "timestamp"})
		require.Error(t, err)
		assert.True(t, domain.IsSchemaError(err))
		assert.Equal(t, "Missing column: amount", err.Error())
	})
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"1500", 1500, true},
		{"1,250.50", 1250.5, true},
		{"₹2,000", 2000, true},
		{"$99.99", 99.99, true},
		{"500 Cr", 500, true},
		{"750dr", 750, true},
		{"", 0, false},
		{"n/a", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseAmount(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			} else {
				assert.True(t, math.IsNaN(got))
			}
		})
	}
}

func TestParseTimestampDayFirst(t *testing.T) {
	ts, ok := ParseTimestamp("03/04/2024 10:15:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.April, 3, 10, 15, 0, 0, time.UTC), ts)

	ts, ok = ParseTimestamp("2024-01-05 08:00:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.January, 5, 8, 0, 0, 0, time.UTC), ts)

	ts, ok = ParseTimestamp("not a date")
	assert.False(t, ok)
	assert.True(t, ts.IsZero())
}

func TestParseLabel(t *testing.T) {
	assert.Equal(t, 1, ParseLabel("1"))
	assert.Equal(t, 1, ParseLabel("1.0"))
	assert.Equal(t, 1, ParseLabel("True"))
	assert.Equal(t, 0, ParseLabel("0"))
	assert.Equal(t, 0, ParseLabel(""))
}

func TestParse(t *testing.T) {
	content := "\xEF\xBB\xBFtransaction_id;sender_id;receiver_id;amount;timestamp;is_fraud\n" +
		"T1;A;B;100;01/02/2024 10:00;1\n" +
		"T2;B;C;oops;garbage;0\n"

	ds, err := Parse("upload.csv", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "upload.csv", ds.Name)
	assert.True(t, ds.HasLabels)
	require.Equal(t, 2, ds.Len())

	first := ds.Transactions[0]
	assert.Equal(t, "T1", first.ID)
	assert.Equal(t, "A", first.SenderID)
	assert.Equal(t, 100.0, first.Amount)
	assert.Equal(t, time.February, first.Timestamp.Month())
	assert.Equal(t, 1, first.IsFraud)

	second := ds.Transactions[1]
	assert.True(t, math.IsNaN(second.Amount))
	assert.False(t, second.HasTimestamp())
	assert.Equal(t, domain.CoercionStats{InvalidAmounts: 1, InvalidTimestamps: 1}, ds.Coercion)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("empty.csv", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyInput)

	_, err = Parse("bad.csv", []byte("a,b,c\n1,2,3\n"))
	assert.True(t, domain.IsSchemaError(err))
}

func TestDecodeLatin1(t *testing.T) {
	assert.Equal(t, "café", Decode([]byte{'c', 'a', 'f', 0xE9}))
	assert.Equal(t, "plain", Decode([]byte("plain")))
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, ',', SniffDelimiter("a,b,c\n1,2,3"))
	assert.Equal(t, ';', SniffDelimiter("a;b;c"))
	assert.Equal(t, '\t', SniffDelimiter("a\tb\tc"))
	assert.Equal(t, '|', SniffDelimiter(`"x,y"|b|c`))
	assert.Equal(t, ',', SniffDelimiter("single"))
}

func TestIsCSV(t *testing.T) {
	assert.True(t, IsCSV("DATA.CSV"))
	assert.False(t, IsCSV("data.xlsx"))
}
