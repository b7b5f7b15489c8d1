package kqloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslateEvent(t *testing.T) {
	cases := []struct {
		name string
		in   rawEvent
		want EventFlags
	}{
		{"error takes priority", rawEvent{filter: FilterReadable, data: 5, isError: true}, ErrorFlag},
		{"readable with data", rawEvent{filter: FilterReadable, data: 1}, Readable},
		{"readable zero data is not ready", rawEvent{filter: FilterReadable, data: 0}, 0},
		{"writable with data", rawEvent{filter: FilterWritable, data: 1}, Writable},
		{"eof adds closed", rawEvent{filter: FilterReadable, data: 1, eof: true}, Readable | Closed},
		{"eof alone", rawEvent{filter: FilterReadable, data: 0, eof: true}, Closed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, translateEvent(tc.in))
		})
	}
}

func TestEventFlagsString(t *testing.T) {
	assert.Equal(t, "none", EventFlags(0).String())
	assert.Equal(t, "READABLE", Readable.String())
	assert.Equal(t, "READABLE|WRITABLE", (Readable | Writable).String())
	assert.Equal(t, "READABLE|WRITABLE|CLOSED|ERROR", (Readable | Writable | Closed | ErrorFlag).String())
}
