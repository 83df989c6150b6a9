package log_service

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LocalDiscLogService appends structured events to one log file per node.
type LocalDiscLogService struct {
	logDir string
	nodeID string
	mu     sync.Mutex
	logger *log.Logger
}

func NewLocalDiscLogService(logDir string, nodeID string) (*LocalDiscLogService, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %v", err)
	}

	filePath := filepath.Join(logDir, fmt.Sprintf("%s.log", nodeID))
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %v", err)
	}

	return &LocalDiscLogService{
		logDir: logDir,
		nodeID: nodeID,
		logger: log.New(file, "", 0),
	}, nil
}

func (ls *LocalDiscLogService) Debug(event LogEvent) { ls.write(DebugLevel, event) }
func (ls *LocalDiscLogService) Info(event LogEvent)  { ls.write(InfoLevel, event) }
func (ls *LocalDiscLogService) Warn(event LogEvent)  { ls.write(WarnLevel, event) }
func (ls *LocalDiscLogService) Error(event LogEvent) { ls.write(ErrorLevel, event) }

func (ls *LocalDiscLogService) write(level string, event LogEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.NodeID == "" {
		event.NodeID = ls.nodeID
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.logger.Printf("%s [%s] %s %s%s",
		event.Timestamp.Format(time.RFC3339), level, event.NodeID, event.Message, formatMetadata(event.Metadata))
}

func formatMetadata(md map[string]any) string {
	if len(md) == 0 {
		return ""
	}

	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(" {")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, md[k])
	}
	b.WriteString("}")
	return b.String()
}
