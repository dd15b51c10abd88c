package settings

import (
	"path"

	"gopkg.in/natefinch/lumberjack.v2"
)

// channels that log lines to files, nil unless audit_decisions is set
var ChLogExpired chan []byte
var ChLogError chan []byte
var ChLogRestapi chan []byte

// start a new rotating logger that routes through a channel for performance
func makeFileLogger(filename string) chan []byte {
	// lumberjack lets us rotate log files automatically
	log := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    2, // megabytes
		MaxBackups: 3,
		MaxAge:     28,    //days
		Compress:   false, // disabled by default
	}
	ch := make(chan []byte, 20)
	go func() {
		var err error
		for line := range ch {
			if len(line) == 0 {
				continue
			}
			// ensure a newline in logged message
			combined := append(line, []byte("\n")...)
			_, err = log.Write(combined)
			if err != nil {
				Logger.Warn().Int("bytes", len(combined)).Str("file", filename).Msg("could not write decision log line to file")
			}
		}
	}()
	return ch
}

// create all required loggers
func createFileLoggers(logpath string) {
	ChLogExpired = makeFileLogger(path.Join(logpath, "expired.log"))
	ChLogError = makeFileLogger(path.Join(logpath, "error.log"))
	ChLogRestapi = makeFileLogger(path.Join(logpath, "restapi.log"))
}

// AuditLine queues a line for a decision log if that log is enabled.
func AuditLine(ch chan []byte, line []byte) {
	if ch == nil {
		return
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	ch <- cp
}
