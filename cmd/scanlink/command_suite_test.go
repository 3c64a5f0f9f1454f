package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/srg/scanlink/internal/rigsim"
	"github.com/stretchr/testify/suite"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writers of a command
// run (command output and logger).
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs scanlink commands against a temp config and a fast
// simulated rig. All cmd/scanlink test suites embed it.
type CommandTestSuite struct {
	suite.Suite

	env          *environment
	configPath   string
	registryPath string
}

func (s *CommandTestSuite) SetupTest() {
	dir := s.T().TempDir()
	s.configPath = filepath.Join(dir, "config.yaml")
	s.registryPath = filepath.Join(dir, "accessory.yaml")
	s.WriteConfig("")

	s.env = &environment{
		simulator: rigsim.Options{
			Latency:   time.Millisecond,
			StepDelay: 20 * time.Millisecond,
			Pages:     2,
		},
		isTerminal: func(any) bool { return false },
	}
}

// WriteConfig writes the suite config with extra YAML appended.
func (s *CommandTestSuite) WriteConfig(extra string) {
	base := fmt.Sprintf("log_level: error\nconnect_timeout: 5s\nregistry_path: %s\n", s.registryPath)
	s.Require().NoError(os.WriteFile(s.configPath, []byte(base+extra), 0o600), "config MUST be written")
}

// ExecuteCommand runs scanlink with args and returns combined output.
// stdin may be nil.
func (s *CommandTestSuite) ExecuteCommand(stdin io.Reader, args ...string) (string, error) {
	cmd := newRootCmd(s.env)
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.SetIn(stdin)
	cmd.SetArgs(append(args, "--config", s.configPath))
	err := cmd.Execute()
	return out.String(), err
}

// Lines splits output into non-empty lines.
func (s *CommandTestSuite) Lines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
