// pkg/utils/logger.go

package utils

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	plog "github.com/pingcap/log"
	"github.com/sirupsen/logrus"
)

var mu sync.Mutex
var loggers = make(map[string]*logHandle)

type logHandle struct {
	logrus.Logger

	name string
}

func (l *logHandle) Format(e *logrus.Entry) ([]byte, error) {
	const timeFormat = "2006/01/02 15:04:05.000000"
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s[%d] <%s>: %s",
		e.Time.Format(timeFormat),
		l.name,
		os.Getpid(),
		strings.ToUpper(e.Level.String()),
		e.Message)

	if len(e.Data) != 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func newLogger(name string) *logHandle {
	l := &logHandle{name: name}
	l.Out = os.Stderr
	l.Formatter = l
	l.Level = logrus.InfoLevel
	l.Hooks = make(logrus.LevelHooks)
	l.ExitFunc = os.Exit
	return l
}

// GetLogger returns a logger mapped to `name`
func GetLogger(name string) *logHandle {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := loggers[name]; ok {
		return logger
	}
	logger := newLogger(name)
	loggers[name] = logger
	return logger
}

// SetLogLevel sets Level to all the loggers in the map
func SetLogLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.SetLevel(lvl)
	}
	// the zap global logger of pingcap/log stays one level quieter
	var plvl string
	switch lvl {
	case logrus.TraceLevel:
		plvl = "debug"
	case logrus.DebugLevel:
		plvl = "info"
	case logrus.InfoLevel, logrus.WarnLevel:
		plvl = "warn"
	case logrus.ErrorLevel:
		plvl = "error"
	default:
		plvl = "dpanic"
	}
	l, p, err := plog.InitLogger(&plog.Config{Level: plvl})
	if err == nil {
		plog.ReplaceGlobals(l, p)
	}
}

// SetOutFile redirects every logger to the file `name`.
func SetOutFile(name string) error {
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.SetOutput(file)
	}
	return nil
}
