package convert

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// IFCConverter shells out to the external ifc converter binary. The binary
// reads the model from stdin, writes the fragment artifact to stdout, and
// reports on stderr: lines of the form "PROGRESS <percent> <message>" while
// running, and a final "META <json>" line carrying the extracted metadata.
type IFCConverter struct {
	bin    string
	logger zerolog.Logger
}

func NewIFCConverter(bin string, logger zerolog.Logger) *IFCConverter {
	return &IFCConverter{
		bin:    bin,
		logger: logger.With().Str("component", "ifc-converter").Logger(),
	}
}

func (c *IFCConverter) Convert(ctx context.Context, input []byte, onProgress ProgressFunc) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.bin, "--stdin", "--stdout")
	cmd.Stdin = bytes.NewReader(input)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open converter stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start converter: %w", err)
	}

	meta, readErr := c.consumeStderr(stderr, onProgress)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("converter failed: %w", err)
	}
	if readErr != nil {
		return nil, readErr
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("converter produced no artifact")
	}

	return &Result{Artifact: stdout.Bytes(), Meta: *meta}, nil
}

// consumeStderr parses progress and metadata lines until the stream closes.
// Unrecognized lines are logged and skipped.
func (c *IFCConverter) consumeStderr(r io.Reader, onProgress ProgressFunc) (*Metadata, error) {
	meta := &Metadata{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "PROGRESS "):
			rest := strings.TrimPrefix(line, "PROGRESS ")
			fields := strings.SplitN(rest, " ", 2)
			pct, err := strconv.Atoi(fields[0])
			if err != nil {
				c.logger.Warn().Str("line", line).Msg("unparseable progress line")
				continue
			}
			msg := ""
			if len(fields) == 2 {
				msg = fields[1]
			}
			if onProgress != nil {
				onProgress(pct, msg)
			}
		case strings.HasPrefix(line, "META "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "META ")), meta); err != nil {
				return nil, fmt.Errorf("failed to parse converter metadata: %w", err)
			}
		default:
			if line != "" {
				c.logger.Debug().Str("line", line).Msg("converter output")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read converter output: %w", err)
	}
	return meta, nil
}
