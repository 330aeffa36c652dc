package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveCountFromHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers []*sarama.RecordHeader
		want    int
	}{
		{name: "no headers", headers: nil, want: 1},
		{
			name: "unrelated headers only",
			headers: []*sarama.RecordHeader{
				{Key: []byte("traceparent"), Value: []byte("00-abc-def-01")},
			},
			want: 1,
		},
		{
			name: "valid count",
			headers: []*sarama.RecordHeader{
				{Key: []byte(receiveCountHeader), Value: []byte("3")},
			},
			want: 3,
		},
		{
			name: "mangled count treated as first receive",
			headers: []*sarama.RecordHeader{
				{Key: []byte(receiveCountHeader), Value: []byte("not-a-number")},
			},
			want: 1,
		},
		{
			name: "non-positive count treated as first receive",
			headers: []*sarama.RecordHeader{
				{Key: []byte(receiveCountHeader), Value: []byte("0")},
			},
			want: 1,
		},
		{
			name: "nil entries skipped",
			headers: []*sarama.RecordHeader{
				nil,
				{Key: []byte(receiveCountHeader), Value: []byte("2")},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, receiveCountFromHeaders(tt.headers))
		})
	}
}

func TestHeadersWithReceiveCountReplacesPriorCount(t *testing.T) {
	t.Parallel()

	in := []*sarama.RecordHeader{
		{Key: []byte("traceparent"), Value: []byte("00-abc-def-01")},
		{Key: []byte(receiveCountHeader), Value: []byte("1")},
	}

	out := headersWithReceiveCount(in, 2)

	var counts []string
	var traceValues []string
	for _, hdr := range out {
		switch string(hdr.Key) {
		case receiveCountHeader:
			counts = append(counts, string(hdr.Value))
		case "traceparent":
			traceValues = append(traceValues, string(hdr.Value))
		}
	}
	require.Equal(t, []string{"2"}, counts, "exactly one receive count header")
	assert.Equal(t, []string{"00-abc-def-01"}, traceValues)
}

func TestHeadersWithReceiveCountOnEmptyInput(t *testing.T) {
	t.Parallel()

	out := headersWithReceiveCount(nil, 2)

	require.Len(t, out, 1)
	assert.Equal(t, receiveCountHeader, string(out[0].Key))
	assert.Equal(t, "2", string(out[0].Value))
}

func TestCopyHeadersDropsNilEntries(t *testing.T) {
	t.Parallel()

	in := []*sarama.RecordHeader{
		{Key: []byte("a"), Value: []byte("1")},
		nil,
		{Key: []byte("b"), Value: []byte("2")},
	}

	out := copyHeaders(in)

	require.Len(t, out, 2)
	assert.Equal(t, "a", string(out[0].Key))
	assert.Equal(t, "b", string(out[1].Key))
}
