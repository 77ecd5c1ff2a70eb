package app

import "time"

const (
	Name                = "resqrelay"
	SourceURL           = "https://git.skobk.in/skobkin/resqrelay"
	ConfigFilename      = "config.json"
	DBFilename          = "relay.db"
	LogFilename         = "relay.log"
	WriterQueueCapacity = 512

	writerDrainTimeout = 2 * time.Second
)
