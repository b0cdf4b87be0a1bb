package cmd

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Alia5/kbdfw/keycode"
)

type edge struct {
	key     uint8
	release bool
}

type recordSender struct {
	edges []edge
	err   error
}

func (r *recordSender) Send(key uint8, release bool) error {
	if r.err != nil {
		return r.err
	}
	r.edges = append(r.edges, edge{key, release})
	return nil
}

func TestTypeInput(t *testing.T) {
	type testCase struct {
		name  string
		input string
		want  []edge
	}
	cases := []testCase{
		{
			name:  "plain",
			input: "ab",
			want: []edge{
				{keycode.KeyA, false}, {keycode.KeyA, true},
				{keycode.KeyB, false}, {keycode.KeyB, true},
			},
		},
		{
			name:  "shifted",
			input: "A",
			want: []edge{
				{keycode.KeyLeftShift, false},
				{keycode.KeyA, false}, {keycode.KeyA, true},
				{keycode.KeyLeftShift, true},
			},
		},
		{
			name:  "delete is backspace",
			input: "\x7f",
			want:  []edge{{keycode.KeyBackspace, false}, {keycode.KeyBackspace, true}},
		},
		{
			name:  "ctrl-d stops",
			input: "a\x04b",
			want:  []edge{{keycode.KeyA, false}, {keycode.KeyA, true}},
		},
		{
			name:  "unknown skipped",
			input: "\x01",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &recordSender{}
			err := typeInput(s, strings.NewReader(tc.input), 0, slog.Default())
			assert.NoError(t, err)
			assert.Equal(t, tc.want, s.edges)
		})
	}
}

func TestTypeInputSendError(t *testing.T) {
	boom := errors.New("boom")
	err := typeInput(&recordSender{err: boom}, strings.NewReader("a"), 0, slog.Default())
	assert.ErrorIs(t, err, boom)
}
