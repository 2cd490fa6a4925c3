package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentCodes(t *testing.T) {
	for _, seg := range []Segment{
		SegmentIndex, SegmentNSEEquity, SegmentNSEFNO, SegmentNSECurrency,
		SegmentBSEEquity, SegmentMCX, SegmentBSECurrency, SegmentBSEFNO,
	} {
		code, ok := seg.Code()
		require.True(t, ok, seg)
		back, ok := SegmentFromCode(code)
		require.True(t, ok, seg)
		assert.Equal(t, seg, back)
	}

	_, ok := SegmentFromCode(6)
	assert.False(t, ok, "code 6 is unassigned")
	assert.False(t, Segment("NYSE").Valid())
}

func TestInstrumentKey_MapIdentity(t *testing.T) {
	m := map[InstrumentKey]int{}
	m[InstrumentKey{Segment: SegmentIndex, SecurityID: "13"}]++
	m[InstrumentKey{Segment: SegmentIndex, SecurityID: "13"}]++
	m[InstrumentKey{Segment: SegmentNSEEquity, SecurityID: "13"}]++

	assert.Len(t, m, 2)
	assert.Equal(t, 2, m[InstrumentKey{Segment: SegmentIndex, SecurityID: "13"}])
}

func TestInstrumentKey_Wire(t *testing.T) {
	key := InstrumentKey{Segment: SegmentIndex, SecurityID: "13"}
	assert.Equal(t, "IDX_I:13", key.String())

	data, err := json.Marshal(key.Wire())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ExchangeSegment":"IDX_I","SecurityId":"13"}`, string(data))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "ticker", want: ModeTicker},
		{in: "Quote", want: ModeQuote},
		{in: " FULL ", want: ModeFull},
		{in: "depth", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) Mode {
	t.Helper()
	m, err := ParseMode(s)
	require.NoError(t, err)
	return m
}
