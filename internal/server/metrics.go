package server

import (
	"sync"
	"time"
)

// Metrics holds in-process counters for the exchanger.
type Metrics struct {
	mu sync.RWMutex

	uploadsTotal        int64
	uploadBytesTotal    int64
	uploadErrorsTotal   int64
	uploadDurationTotal time.Duration

	downloadsTotal        int64
	downloadBytesTotal    int64
	downloadErrorsTotal   int64
	downloadDurationTotal time.Duration

	deletesTotal int64

	roomsCreatedTotal int64
	joinSuccessTotal  int64
	joinFailuresTotal int64
	lockoutsTotal     int64

	requestsTotal    int64
	requestErrors5xx int64
	requestErrors4xx int64

	startedAt time.Time
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// RecordUpload records a successful upload
func (m *Metrics) RecordUpload(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadBytesTotal += bytes
	m.uploadDurationTotal += duration
}

func (m *Metrics) RecordUploadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErrorsTotal++
}

// RecordDownload records a completed download
func (m *Metrics) RecordDownload(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadsTotal++
	m.downloadBytesTotal += bytes
	m.downloadDurationTotal += duration
}

func (m *Metrics) RecordDownloadError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadErrorsTotal++
}

func (m *Metrics) RecordDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletesTotal++
}

func (m *Metrics) RecordRoomCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomsCreatedTotal++
}

// RecordJoin records a password check on a room.
func (m *Metrics) RecordJoin(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.joinSuccessTotal++
	} else {
		m.joinFailuresTotal++
	}
}

func (m *Metrics) RecordLockout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockoutsTotal++
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++

	if statusCode >= 500 {
		m.requestErrors5xx++
	} else if statusCode >= 400 {
		m.requestErrors4xx++
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		UploadsTotal:          m.uploadsTotal,
		UploadBytesTotal:      m.uploadBytesTotal,
		UploadErrorsTotal:     m.uploadErrorsTotal,
		UploadAvgDurationMs:   avgDuration(m.uploadDurationTotal, m.uploadsTotal),
		DownloadsTotal:        m.downloadsTotal,
		DownloadBytesTotal:    m.downloadBytesTotal,
		DownloadErrorsTotal:   m.downloadErrorsTotal,
		DownloadAvgDurationMs: avgDuration(m.downloadDurationTotal, m.downloadsTotal),
		DeletesTotal:          m.deletesTotal,
		RoomsCreatedTotal:     m.roomsCreatedTotal,
		JoinSuccessTotal:      m.joinSuccessTotal,
		JoinFailuresTotal:     m.joinFailuresTotal,
		LockoutsTotal:         m.lockoutsTotal,
		RequestsTotal:         m.requestsTotal,
		RequestErrors5xx:      m.requestErrors5xx,
		RequestErrors4xx:      m.requestErrors4xx,
		UptimeSeconds:         time.Since(m.startedAt).Seconds(),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	UploadsTotal        int64   `json:"uploads_total"`
	UploadBytesTotal    int64   `json:"upload_bytes_total"`
	UploadErrorsTotal   int64   `json:"upload_errors_total"`
	UploadAvgDurationMs float64 `json:"upload_avg_duration_ms"`

	DownloadsTotal        int64   `json:"downloads_total"`
	DownloadBytesTotal    int64   `json:"download_bytes_total"`
	DownloadErrorsTotal   int64   `json:"download_errors_total"`
	DownloadAvgDurationMs float64 `json:"download_avg_duration_ms"`

	DeletesTotal int64 `json:"deletes_total"`

	RoomsCreatedTotal int64 `json:"rooms_created_total"`
	JoinSuccessTotal  int64 `json:"join_success_total"`
	JoinFailuresTotal int64 `json:"join_failures_total"`
	LockoutsTotal     int64 `json:"lockouts_total"`

	RequestsTotal    int64 `json:"requests_total"`
	RequestErrors5xx int64 `json:"request_errors_5xx"`
	RequestErrors4xx int64 `json:"request_errors_4xx"`

	UptimeSeconds float64 `json:"uptime_seconds"`
}

func avgDuration(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(count)
}
