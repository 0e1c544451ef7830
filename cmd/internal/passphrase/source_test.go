package passphrase

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeSource(env map[string]string, terminal bool, answers ...string) (*Source, *bytes.Buffer) {
	prompt := &bytes.Buffer{}
	s := NewSource("LOYALTY_KEYSTORE_PASS")
	s.prompt = prompt
	s.lookup = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	s.isTerm = func(int) bool { return terminal }
	s.readPass = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, nil
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
	return s, prompt
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s, prompt := fakeSource(map[string]string{"LOYALTY_KEYSTORE_PASS": "hunter2"}, true, "ignored")
	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
	require.Empty(t, prompt.String())
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s, _ := fakeSource(map[string]string{"LOYALTY_KEYSTORE_PASS": "  "}, true)
	_, err := s.Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourceRequiresTerminal(t *testing.T) {
	s, _ := fakeSource(nil, false)
	_, err := s.Get()
	require.ErrorContains(t, err, "LOYALTY_KEYSTORE_PASS")
}

func TestSourcePromptsOnce(t *testing.T) {
	s, prompt := fakeSource(nil, true, "correct horse")
	first, err := s.Get()
	require.NoError(t, err)
	second, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "correct horse", first)
	require.Equal(t, first, second)
	require.Equal(t, 1, bytes.Count(prompt.Bytes(), []byte("Keystore passphrase")))
}

func TestSourceConfirmationMismatch(t *testing.T) {
	s, _ := fakeSource(nil, true, "one", "two")
	WithConfirmation()(s)
	_, err := s.Get()
	require.ErrorContains(t, err, "do not match")
}
