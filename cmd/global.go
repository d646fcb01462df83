package cmd

import (
	"github.com/creativeprojects/gbackup/cfg"
	"github.com/sirupsen/logrus"
)

type GlobalFlags struct {
	configFile string
	quiet      bool
	verbose    bool
}

var (
	global GlobalFlags
	config *cfg.Config
	logger = logrus.New()
)
