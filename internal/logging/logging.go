package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stderr and, when path is set, a rotated file.
// The returned writer is what gin should log to as well.
func Setup(path string) (io.Writer, io.Closer) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		log.SetOutput(os.Stderr)
		return os.Stderr, nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	w := io.MultiWriter(os.Stderr, file)
	log.SetOutput(w)
	return w, file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
