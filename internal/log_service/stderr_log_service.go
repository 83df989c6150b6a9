package log_service

import (
	"log"
	"os"
	"time"
)

// StderrLogService writes events to standard error. It is the default sink
// for command-line tools and tests.
type StderrLogService struct {
	nodeID string
	logger *log.Logger
}

func NewStderrLogService(nodeID string) *StderrLogService {
	return &StderrLogService{
		nodeID: nodeID,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (ls *StderrLogService) Debug(event LogEvent) { ls.write(DebugLevel, event) }
func (ls *StderrLogService) Info(event LogEvent)  { ls.write(InfoLevel, event) }
func (ls *StderrLogService) Warn(event LogEvent)  { ls.write(WarnLevel, event) }
func (ls *StderrLogService) Error(event LogEvent) { ls.write(ErrorLevel, event) }

func (ls *StderrLogService) write(level string, event LogEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	nodeID := event.NodeID
	if nodeID == "" {
		nodeID = ls.nodeID
	}

	ls.logger.Printf("[%s] %s %s%s", level, nodeID, event.Message, formatMetadata(event.Metadata))
}
