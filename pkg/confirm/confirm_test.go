package confirm

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		reasked bool
	}{
		{name: "yes", input: "y\n"},
		{name: "yes word", input: "YES\n"},
		{name: "no", input: "n\n", wantErr: ErrDeclined},
		{name: "garbage then yes", input: "maybe\ny\n", reasked: true},
		{name: "eof", input: "", wantErr: ErrDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewTerminal(strings.NewReader(tt.input), &out)
			err := p.Confirm(context.Background(), "Kill 3 jobs?")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out.String(), "Kill 3 jobs? [y/n]")
			assert.Equal(t, tt.reasked, strings.Contains(out.String(), "Please answer"))
		})
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{Prompt: Deny{}}
	err := r.Confirm(context.Background(), "clean?")
	assert.True(t, IsDeclined(err))
	assert.Equal(t, []string{"clean?"}, r.Messages())

	require.NoError(t, PreAuthorized{}.Confirm(context.Background(), "anything"))
}
