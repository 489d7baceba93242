package pkg

import (
	"github.com/powerman/structlog"
	"github.com/scada-tools/datadiode/internal/pkg/logfile"
)

var severeJournal = logfile.NewJournal("logfile.txt")

// Severe reports a failure that operators review after the fact:
// the message goes to the structured log and is appended to the
// plain-text journal in the working directory.
func Severe(l *structlog.Logger, msg string, keyvals ...interface{}) {
	l.PrintErr("`"+msg+"`", keyvals...)
	if err := severeJournal.Severe(msg); err != nil {
		l.PrintErr(err, "problem", "`failed to append journal`")
	}
}
