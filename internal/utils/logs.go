package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type LogsManager struct {
	cm          *ConfigManager
	dir         string
	logFileName string
	logger      *log.Logger
	File        *os.File
	mutex       sync.RWMutex
	maxSize     int64
	maxBackups  int
	fileSize    int64
}

// NewLogsManager opens (or creates) the configured log file. The log directory
// comes from `log_dir` when set, otherwise from the platform app paths.
func NewLogsManager(cm *ConfigManager) *LogsManager {
	dir := cm.GetConfigWithDefault("log_dir", "")
	if dir == "" {
		dir = GetAppPaths("").LogDir
	}

	lm := &LogsManager{
		cm:          cm,
		dir:         dir,
		logFileName: cm.GetConfigWithDefault("logfile", "secure-groups.log"),
		logger:      log.New(),
		maxSize:     int64(cm.GetConfigInt("log_max_size_mb", 50, 1, 4096)) * 1024 * 1024,
		maxBackups:  cm.GetConfigInt("log_max_backups", 5, 0, 100),
	}

	if err := lm.initLogger(); err != nil {
		panic(err)
	}

	return lm
}

// NewLogsManagerWithWriter logs to w instead of a file; rotation is disabled.
func NewLogsManagerWithWriter(cm *ConfigManager, w io.Writer) *LogsManager {
	lm := &LogsManager{
		cm:     cm,
		logger: log.New(),
	}
	lm.configure(w)
	return lm
}

func (lm *LogsManager) initLogger() error {
	if err := os.MkdirAll(lm.dir, 0755); err != nil {
		return err
	}

	path := filepath.Join(lm.dir, filepath.FromSlash(lm.logFileName))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return err
	}

	lm.File = file
	if stat, err := file.Stat(); err == nil {
		lm.fileSize = stat.Size()
	}

	lm.configure(file)
	return nil
}

func (lm *LogsManager) configure(w io.Writer) {
	logLevel := lm.cm.GetConfigWithDefault("log_level", "info")
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", logLevel)
		level = log.InfoLevel
	}
	lm.logger.SetLevel(level)
	lm.logger.SetOutput(w)
	lm.logger.SetFormatter(&log.JSONFormatter{})
}

func (lm *LogsManager) fileInfo(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "<???>"
		line = 1
	} else if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (lm *LogsManager) Log(level string, message string, category string) {
	if lm.File != nil && lm.maxSize > 0 && lm.fileSize > lm.maxSize {
		lm.rotate()
	}

	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	entry := lm.logger.WithFields(log.Fields{
		"category": category,
		"file":     lm.fileInfo(3),
	})

	switch level {
	case "trace":
		entry.Trace(message)
	case "debug":
		entry.Debug(message)
	case "warn":
		entry.Warn(message)
	case "error":
		entry.Error(message)
	default:
		entry.Info(message)
	}

	// Rough estimate including JSON overhead
	lm.fileSize += int64(len(message) + 100)
}

func (lm *LogsManager) Debug(message string, category string) {
	lm.Log("debug", message, category)
}

func (lm *LogsManager) Info(message string, category string) {
	lm.Log("info", message, category)
}

func (lm *LogsManager) Warn(message string, category string) {
	lm.Log("warn", message, category)
}

func (lm *LogsManager) Error(message string, category string) {
	lm.Log("error", message, category)
}

// Close closes the log file - call this when shutting down
func (lm *LogsManager) Close() error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.File != nil {
		err := lm.File.Close()
		lm.File = nil
		lm.logger.SetOutput(io.Discard)
		return err
	}
	return nil
}

// rotate moves the current log aside and drops backups beyond maxBackups
func (lm *LogsManager) rotate() {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	if lm.File == nil {
		return
	}
	lm.File.Close()
	lm.File = nil

	current := filepath.Join(lm.dir, lm.logFileName)
	backup := fmt.Sprintf("%s.%s.bak", current, time.Now().Format("2006-01-02_15-04-05"))
	if err := os.Rename(current, backup); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create backup %s: %v\n", backup, err)
	}

	if err := lm.initLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reinitialize logger after rotation: %v\n", err)
		lm.logger.SetOutput(io.Discard)
		return
	}

	if lm.maxBackups > 0 {
		backups, _ := filepath.Glob(current + ".*.bak")
		// Timestamped names sort chronologically
		for i := 0; i < len(backups)-lm.maxBackups; i++ {
			os.Remove(backups[i])
		}
	}
}

// SetLogLevel updates the log level at runtime
func (lm *LogsManager) SetLogLevel(levelStr string) error {
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %v", levelStr, err)
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.logger.SetLevel(level)

	return nil
}
