package tim561

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// TelegramStats tracks acquisition throughput with thread-safe counters.
type TelegramStats struct {
	mu            sync.Mutex
	telegramCount int64
	byteCount     int64
	pointCount    int64
	decodeErrors  int64
	reconnects    int64
	lastReset     time.Time
}

// NewTelegramStats creates a TelegramStats instance.
func NewTelegramStats() *TelegramStats {
	return &TelegramStats{lastReset: time.Now()}
}

// AddTelegram increments telegram and byte counts.
func (ts *TelegramStats) AddTelegram(bytes int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.telegramCount++
	ts.byteCount += int64(bytes)
}

// AddPoints increments the published point count.
func (ts *TelegramStats) AddPoints(count int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pointCount += int64(count)
}

// AddDecodeError increments the dropped-telegram count.
func (ts *TelegramStats) AddDecodeError() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.decodeErrors++
}

// AddReconnect increments the reconnect count.
func (ts *TelegramStats) AddReconnect() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.reconnects++
}

// Snapshot returns the current counters without resetting them.
func (ts *TelegramStats) Snapshot() (telegrams, bytes, points, decodeErrors, reconnects int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.telegramCount, ts.byteCount, ts.pointCount, ts.decodeErrors, ts.reconnects
}

// GetAndReset returns interval counters and resets them.
func (ts *TelegramStats) GetAndReset() (telegrams, bytes, points, decodeErrors int64, duration time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	duration = now.Sub(ts.lastReset)
	telegrams = ts.telegramCount
	bytes = ts.byteCount
	points = ts.pointCount
	decodeErrors = ts.decodeErrors

	ts.telegramCount = 0
	ts.byteCount = 0
	ts.pointCount = 0
	ts.decodeErrors = 0
	ts.lastReset = now

	return
}

// LogStats logs interval rates and resets the interval counters.
func (ts *TelegramStats) LogStats() {
	telegrams, bytes, points, decodeErrors, duration := ts.GetAndReset()
	if telegrams == 0 && decodeErrors == 0 {
		return
	}

	scansPerSec := float64(telegrams) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024
	pointsPerSec := float64(points) / duration.Seconds()

	logMsg := fmt.Sprintf("Lidar stats (/sec): %.1f scans, %.1f KB, %.0f points",
		scansPerSec, kbPerSec, pointsPerSec)
	if decodeErrors > 0 {
		logMsg += fmt.Sprintf(", %d telegrams dropped", decodeErrors)
	}
	log.Print(logMsg)
}
