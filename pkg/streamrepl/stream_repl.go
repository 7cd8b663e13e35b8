package streamrepl

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"seekstream/pkg/repl"
	"seekstream/pkg/sstream"
)

func StreamRepl(s *sstream.Stream) *repl.REPL {
	r := repl.NewRepl()
	r.AddCommand("stat", statHandler(s), "Prints the stream's region sizes. usage: stat")
	r.AddCommand("w", writeHandler(s), "Appends text to the stream. usage: w <text>")
	r.AddCommand("z", zeroHandler(s), "Appends zero bytes to the stream. usage: z <n>")
	r.AddCommand("r", readHandler(s), "Reads n bytes at the cursor, cleaning afterwards if asked. usage: r <n> [clean]")
	r.AddCommand("skip", skipHandler(s), "Moves the cursor forward without reading. usage: skip <n> [clean]")
	r.AddCommand("seek", seekHandler(s), "Moves the cursor. usage: seek <offset> [set|cur|end]")
	r.AddCommand("clean", cleanHandler(s), "Drops the bytes before the cursor. usage: clean")
	r.AddCommand("dump", dumpHandler(s), "Hex dumps the resident bytes. usage: dump")
	return r
}

func parseSize(arg string) (uint32, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", arg)
	}
	return uint32(n), nil
}

func parseClean(args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	if args[0] != "clean" {
		return false, fmt.Errorf("unknown option %q", args[0])
	}
	return true, nil
}

func statHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		if len(strings.Fields(input)) != 1 {
			return fmt.Errorf("usage: stat")
		}
		st := s.Stat()
		_, err := io.WriteString(config.Writer, "Cap\tUsed\tStale\tFresh\tFree\tCursor\n")
		if err != nil {
			return fmt.Errorf("statHandler cannot write the header")
		}
		_, err = fmt.Fprintf(config.Writer, "%d\t%d\t%d\t%d\t%d\t%d\n",
			st.Capacity, st.Used, st.Stale, st.Fresh, st.Free, st.Cursor)
		return err
	}
}

func writeHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.SplitN(input, " ", 2)
		if len(args) != 2 {
			return fmt.Errorf("usage: w <text>")
		}
		n, err := s.Write([]byte(args[1]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(config.Writer, "Wrote %d bytes\n", n)
		return err
	}
}

func zeroHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) != 2 {
			return fmt.Errorf("usage: z <n>")
		}
		n, err := parseSize(args[1])
		if err != nil {
			return err
		}
		if err := s.WriteZero(n); err != nil {
			return err
		}
		_, err = fmt.Fprintf(config.Writer, "Wrote %d zero bytes\n", n)
		return err
	}
}

func readHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: r <n> [clean]")
		}
		n, err := parseSize(args[1])
		if err != nil {
			return err
		}
		clean, err := parseClean(args[2:])
		if err != nil {
			return err
		}
		// checked here only to avoid allocating n bytes for a read that fails
		if uint64(n) > uint64(s.Len()) {
			return sstream.ErrNoData
		}

		buf := make([]byte, n)
		if clean {
			_, err = s.ReadClean(buf)
		} else {
			_, err = s.Read(buf)
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(config.Writer, "Read %d bytes: %q\n", n, buf)
		return err
	}
}

func skipHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: skip <n> [clean]")
		}
		n, err := parseSize(args[1])
		if err != nil {
			return err
		}
		clean, err := parseClean(args[2:])
		if err != nil {
			return err
		}
		return s.Skip(n, clean)
	}
}

var whences = map[string]int{
	"set": io.SeekStart,
	"cur": io.SeekCurrent,
	"end": io.SeekEnd,
}

func seekHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		args := strings.Fields(input)
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("usage: seek <offset> [set|cur|end]")
		}
		offset, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid offset %q", args[1])
		}
		whence := io.SeekStart
		if len(args) == 3 {
			w, ok := whences[args[2]]
			if !ok {
				return fmt.Errorf("invalid origin %q", args[2])
			}
			whence = w
		}

		pos, err := s.Seek(offset, whence)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(config.Writer, "Cursor at %d\n", pos)
		return err
	}
}

func cleanHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		if len(strings.Fields(input)) != 1 {
			return fmt.Errorf("usage: clean")
		}
		s.Clean()
		return nil
	}
}

func dumpHandler(s *sstream.Stream) repl.Handler {
	return func(input string, config *repl.REPLConfig) error {
		if len(strings.Fields(input)) != 1 {
			return fmt.Errorf("usage: dump")
		}
		b := s.Bytes()
		if len(b) == 0 {
			_, err := io.WriteString(config.Writer, "(empty)\n")
			return err
		}
		_, err := io.WriteString(config.Writer, hex.Dump(b))
		return err
	}
}
