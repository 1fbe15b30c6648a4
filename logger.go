package msgbox

import "github.com/sirupsen/logrus"

// NewLogger returns a tagged entry on the standard logrus logger. The
// reactor uses one of these as its diagnostic channel for failures that have
// no connection to report through.
func NewLogger(tag string) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("tag", tag)
}
