package main

import (
	"io"

	"github.com/sirupsen/logrus"
)

func discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
