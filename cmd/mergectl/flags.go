package main

import (
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/open-policy-agent/merge-into-file/internal/logging"
)

type commonParams struct {
	configFiles []string
	baseDir     string
	logLevel    logging.Level
	logFormat   logging.Format
}

func addCommonFlags(fs *pflag.FlagSet, p *commonParams) {
	p.logLevel = logging.LevelInfo

	fs.StringSliceVarP(&p.configFiles, "config", "c", []string{"mergectl.yaml"}, "configuration files or directories, merged in order")
	fs.StringVar(&p.baseDir, "base", "", "directory relative source roots and the output directory are resolved against (default: working directory)")
	fs.Var(enumflag.New(&p.logLevel, "level", logging.LevelIDs, enumflag.EnumCaseInsensitive), "log-level", "log level: debug, info, warn or error")
	fs.Var(enumflag.New(&p.logFormat, "format", logging.FormatIDs, enumflag.EnumCaseInsensitive), "log-format", "log format: text or json")
}

func (p *commonParams) logger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: p.logLevel, Format: p.logFormat})
}
