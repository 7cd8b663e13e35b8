package main

import (
	"flag"
	"fmt"
	"os"

	"seekstream/pkg/repl"
	"seekstream/pkg/sstream"
	"seekstream/pkg/streamconfig"
	"seekstream/pkg/streamrepl"

	"go.uber.org/zap"
)

func main() {
	// 0. read the optional config file from the command line
	arg := flag.String("config", "", "specify the config file")
	flag.Parse()

	conf := streamconfig.Default()
	if *arg != "" {
		var err error
		conf, err = streamconfig.ParseConfig(*arg)
		if err != nil {
			fmt.Println(err)
			fmt.Println("usage: sstream [--config <file>]")
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

	// 1. create the stream
	s, err := sstream.New(conf.StreamConfig())
	if err != nil {
		logger.Fatal("error creating stream", zap.Error(err))
	}
	defer s.Close()
	logger.Info("stream ready", zap.Uint32("capacity", s.Stat().Capacity))

	// 2. run the repl
	r := streamrepl.StreamRepl(s)
	if err := r.Run(&repl.RunConfig{Prompt: "sstream> ", HistoryFile: conf.HistoryFile}); err != nil {
		logger.Error("repl stopped", zap.Error(err))
	}
}
