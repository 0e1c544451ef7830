package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or an
// interactive prompt, once. Its Get method satisfies config.PassphraseFunc.
type Source struct {
	envVar  string
	confirm bool

	fd       int
	prompt   io.Writer
	lookup   func(string) (string, bool)
	readPass func(int) ([]byte, error)
	isTerm   func(int) bool

	once  sync.Once
	value string
	err   error
}

type Option func(*Source)

// WithConfirmation asks twice when prompting; used when creating a keystore.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar:   strings.TrimSpace(envVar),
		fd:       int(os.Stdin.Fd()),
		prompt:   os.Stderr,
		lookup:   os.LookupEnv,
		readPass: term.ReadPassword,
		isTerm:   term.IsTerminal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTerm(s.fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}
	first, err := s.read("Keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if s.confirm {
		second, err := s.read("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

func (s *Source) read(label string) (string, error) {
	fmt.Fprint(s.prompt, label)
	raw, err := s.readPass(s.fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	value := string(raw)
	if strings.TrimSpace(value) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	return value, nil
}
