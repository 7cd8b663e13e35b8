package streamconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"seekstream/pkg/sstream"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type LogMode string

const (
	LogDevelopment LogMode = "development"
	LogProduction  LogMode = "production"
	LogNop         LogMode = "nop"

	DefaultChunk = 512
)

/*
 * A config file holds one directive per line, '#' starts a comment:
 *
 *   capacity 4096
 *   chunk 256
 *   history /tmp/sstream.history
 *   log development
 *
 * Directives not present keep their Default() value.
 */
type Config struct {
	// Stream capacity in bytes; 0 leaves the choice to the stream.
	Capacity uint32

	// Bytes handed to the decoder per Feed call.
	Chunk int

	// readline history file for the interactive shell; empty disables it.
	HistoryFile string

	Log LogMode
}

func Default() *Config {
	return &Config{
		Chunk: DefaultChunk,
		Log:   LogDevelopment,
	}
}

// StreamConfig returns the stream configuration, nil when no capacity was
// given so the stream default applies.
func (c *Config) StreamConfig() *sstream.Config {
	if c.Capacity == 0 {
		return nil
	}
	return &sstream.Config{Capacity: c.Capacity}
}

func (c *Config) Logger() (*zap.Logger, error) {
	switch c.Log {
	case LogDevelopment:
		return zap.NewDevelopment()
	case LogProduction:
		return zap.NewProduction()
	case LogNop:
		return zap.NewNop(), nil
	default:
		return nil, errors.Errorf("unknown log mode %q", c.Log)
	}
}

type ParseFunc func(int, []string, *Config) error

var parseCommands = map[string]ParseFunc{
	"capacity": parseCapacity,
	"chunk":    parseChunk,
	"history":  parseHistory,
	"log":      parseLog,
}

func parseCapacity(ln int, tokens []string, config *Config) error {
	if len(tokens) != 2 {
		return newErrString(ln, "capacity directive must have format:  capacity <bytes>")
	}
	capacity, err := strconv.ParseUint(tokens[1], 10, 32)
	if err != nil {
		return newErr(ln, err)
	}
	// NOTE: capacities below sstream.CapacityMin are passed through; the
	// stream substitutes its default for them
	config.Capacity = uint32(capacity)
	return nil
}

func parseChunk(ln int, tokens []string, config *Config) error {
	if len(tokens) != 2 {
		return newErrString(ln, "chunk directive must have format:  chunk <bytes>")
	}
	chunk, err := strconv.Atoi(tokens[1])
	if err != nil {
		return newErr(ln, err)
	}
	if chunk <= 0 {
		return newErrString(ln, "chunk must be positive, got %d", chunk)
	}
	config.Chunk = chunk
	return nil
}

func parseHistory(ln int, tokens []string, config *Config) error {
	if len(tokens) != 2 {
		return newErrString(ln, "history directive must have format:  history <file>")
	}
	config.HistoryFile = tokens[1]
	return nil
}

func parseLog(ln int, tokens []string, config *Config) error {
	if len(tokens) != 2 {
		return newErrString(ln, "log directive must have format:  log <development|production|nop>")
	}
	mode := LogMode(tokens[1])
	switch mode {
	case LogDevelopment, LogProduction, LogNop:
		config.Log = mode
	default:
		return newErrString(ln, "Invalid log mode:  %s", tokens[1])
	}
	return nil
}

func newErrString(line int, msg string, args ...any) error {
	return errors.Errorf("Parse error on line %d:  %s", line, fmt.Sprintf(msg, args...))
}

func newErr(line int, err error) error {
	return errors.Wrapf(err, "Parse error on line %d", line)
}

// Parse reads directives from r on top of Default().
func Parse(r io.Reader) (*Config, error) {
	config := Default()

	scanner := bufio.NewScanner(r)
	ln := 0
	for scanner.Scan() {
		ln++

		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}

		// Skip comments
		head := tokens[0]
		if head[0] == '#' {
			continue
		}

		pf, found := parseCommands[head]
		if !found {
			return nil, newErrString(ln, "Unrecognized token %s", head)
		}
		if err := pf(ln, tokens, config); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return config, nil
}

// Parse a configuration file
func ParseConfig(configFile string) (*Config, error) {
	fd, err := os.Open(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to open file")
	}
	defer fd.Close()

	return Parse(fd)
}
