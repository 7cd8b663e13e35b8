package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"seekstream/pkg/decoder"
	"seekstream/pkg/proto"
	"seekstream/pkg/streamconfig"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	config := flag.String("config", "", "specify the config file")
	in := flag.String("in", "", "file of raw, back to back IPv4 packets")
	flag.Parse()
	if *in == "" {
		fmt.Println("usage: ipdecode [--config <file>] --in <packets file>")
		os.Exit(2)
	}

	conf := streamconfig.Default()
	if *config != "" {
		var err error
		conf, err = streamconfig.ParseConfig(*config)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}

	logger, err := conf.Logger()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	fd, err := os.Open(*in)
	if err != nil {
		logger.Fatal("error opening input", zap.Error(err))
	}
	defer fd.Close()

	d, err := decoder.New(logger, conf.StreamConfig())
	if err != nil {
		logger.Fatal("error creating decoder", zap.Error(err))
	}
	defer d.Close()

	if err := run(d, fd, conf.Chunk, os.Stdout); err != nil {
		logger.Error("decoding stopped", zap.Error(err))
	}

	st := d.Stats()
	logger.Info("done",
		zap.Uint64("bytes", st.BytesFed),
		zap.Uint64("frames", st.Frames),
		zap.Uint64("bad_checksum", st.BadChecksum),
		zap.Uint64("malformed", st.Malformed),
		zap.Uint64("resyncs", st.Resyncs),
		zap.Int("trailing", d.Buffered()))
}

// run feeds r to d in chunks and prints every frame as soon as it is decoded.
func run(d *decoder.Decoder, r io.Reader, chunk int, w io.Writer) error {
	buf := make([]byte, chunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := d.Feed(buf[:n]); ferr != nil {
				return ferr
			}
			for f, ok := d.Next(); ok; f, ok = d.Next() {
				printFrame(w, f)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read input")
		}
	}
}

func printFrame(w io.Writer, f *decoder.Frame) {
	hdr := f.IP.Header
	if f.TCP == nil {
		fmt.Fprintf(w, "%s -> %s proto %d, %d bytes\n", hdr.Src, hdr.Dst, hdr.Protocol, len(f.IP.Payload))
		return
	}
	fmt.Fprintf(w, "%s -> %s tcp %s, %d bytes\n", hdr.Src, hdr.Dst, proto.TCPFieldsToString(f.TCP.TcpHeader), len(f.TCP.Payload))
}
