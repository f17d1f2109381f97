package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/mailroute/core/internal/database/models"
)

const (
	defaultCleanupInterval = 1 * time.Hour
	logRetentionDays       = 30
)

// CleanupScheduler periodically sweeps clock-driven state: pending
// payment sessions past their deadline, expired allow-list entries and
// old log rows
type CleanupScheduler struct {
	vipService *VipService
	logService *LogService
	interval   time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	sweeping sync.Mutex // guards against overlapping sweeps
}

// NewCleanupScheduler creates a new CleanupScheduler instance
func NewCleanupScheduler(vipService *VipService, logService *LogService, interval time.Duration) *CleanupScheduler {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &CleanupScheduler{
		vipService: vipService,
		logService: logService,
		interval:   interval,
	}
}

// Start launches the background sweep loop. Safe to call once; repeated
// calls are ignored while running.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	go s.loop(s.stopChan)
}

// Stop halts the sweep loop
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

func (s *CleanupScheduler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One sweep at startup so a restart doesn't delay expiry by a full interval
	s.RunOnce()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single sweep. Skips silently if a sweep is already
// in progress.
func (s *CleanupScheduler) RunOnce() {
	if !s.sweeping.TryLock() {
		return
	}
	defer s.sweeping.Unlock()

	expired, err := s.vipService.SweepExpiredSessions()
	if err != nil {
		s.logService.LogError(0, models.LogModuleCleanup, "session_sweep_failed",
			fmt.Sprintf("Payment session sweep failed: %v", err), nil)
	} else if expired > 0 {
		s.logService.LogInfo(0, models.LogModuleCleanup, "sessions_expired",
			fmt.Sprintf("Expired %d pending payment session(s)", expired),
			map[string]interface{}{"count": expired})
	}

	pruned, err := s.vipService.PruneExpiredAllowedSenders()
	if err != nil {
		s.logService.LogError(0, models.LogModuleCleanup, "allowlist_prune_failed",
			fmt.Sprintf("Allow-list prune failed: %v", err), nil)
	} else if pruned > 0 {
		s.logService.LogInfo(0, models.LogModuleCleanup, "allowlist_pruned",
			fmt.Sprintf("Pruned %d expired allow-list entries", pruned),
			map[string]interface{}{"count": pruned})
	}

	if _, err := s.logService.PruneLogs(logRetentionDays); err != nil {
		s.logService.LogError(0, models.LogModuleCleanup, "log_prune_failed",
			fmt.Sprintf("Log prune failed: %v", err), nil)
	}
}
