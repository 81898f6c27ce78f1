// Package logging sets up the structured logger shared by every
// component, following FrancisChung-holster/etcdutil's
// logrus.WithField("category", ...) pattern.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// For returns a component-tagged log entry, e.g. logging.For("election").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
