package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/coindeck/internal/model"
)

// progressSnapshot は進捗ファイルの1スナップショット。
// ティックごとに全体を上書きする（追記ではない）。
type progressSnapshot struct {
	RunID           string   `json:"runId"`
	Status          string   `json:"status"` // running | done
	Phase           string   `json:"phase,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	Target          int      `json:"target,omitempty"`
	PageSize        int      `json:"pageSize,omitempty"`
	Concurrency     int      `json:"concurrency,omitempty"`
	Profiles        []string `json:"profiles,omitempty"`
	Round           int      `json:"rounds"`
	MaxRounds       int      `json:"maxRounds,omitempty"`
	Collected       int      `json:"totalCollected"`
	Active          int      `json:"active"`
	Cutoff          int64    `json:"cutoff,omitempty"`
	FailedProfile   string   `json:"failedProfile,omitempty"`
	Failures        int      `json:"consecutiveFailures,omitempty"`
	NewestCreatedAt string   `json:"newestCreatedAt,omitempty"`
	OldestCreatedAt string   `json:"oldestCreatedAt,omitempty"`
	StartedAt       string   `json:"startedAt"`
	UpdatedAt       string   `json:"updatedAt"`
	ElapsedMs       int64    `json:"elapsedMs"`
}

// BuildInfo はビルド実行のメタデータ。全スナップショットに反映される。
type BuildInfo struct {
	Mode        string
	Target      int
	PageSize    int
	Concurrency int
	Profiles    []string
	MaxRounds   int
	Cutoff      int64
}

// ProgressWriter は収集の進捗をJSONファイルに書き出す。
// 長時間のバッチビルドを外部から観測するためのもので、
// 書き込み失敗はビルドの失敗にしない。
type ProgressWriter struct {
	path    string
	runID   string
	started time.Time
	logger  *slog.Logger

	// 以下はビルドを駆動する単一のゴルーチンからのみ触られる
	info          BuildInfo
	lastRound     int
	lastCollected int
	lastActive    int
}

// NewProgressWriter はProgressWriter の新しいインスタンスを生成する。
// 実行ごとに一意のrunIDを採番する。
func NewProgressWriter(path string, logger *slog.Logger) *ProgressWriter {
	return &ProgressWriter{
		path:    path,
		runID:   uuid.New().String(),
		started: time.Now(),
		logger:  logger,
	}
}

// SetBuildInfo はビルドのメタデータを設定する。収集開始前に1回呼ばれる。
func (w *ProgressWriter) SetBuildInfo(info BuildInfo) {
	w.info = info
}

// ReportRound はラウンド開始時の進捗を書き出す。
func (w *ProgressWriter) ReportRound(round int, collected int, active int) {
	w.lastRound, w.lastCollected, w.lastActive = round, collected, active
	w.write(progressSnapshot{
		Status:    "running",
		Phase:     "round",
		Round:     round,
		Collected: collected,
		Active:    active,
	})
}

// ReportChunk はチャンク処理完了時の進捗を書き出す。
func (w *ProgressWriter) ReportChunk(round int, collected int, active int) {
	w.lastRound, w.lastCollected, w.lastActive = round, collected, active
	w.write(progressSnapshot{
		Status:    "running",
		Phase:     "chunk",
		Round:     round,
		Collected: collected,
		Active:    active,
	})
}

// ReportProfileError はプロフィールのフェッチ失敗を書き出す。
// ラウンド・件数は直近のティックの値を引き継ぐ。
func (w *ProgressWriter) ReportProfileError(identifier string, consecutiveFailures int) {
	w.write(progressSnapshot{
		Status:        "running",
		Phase:         "profile_error",
		Round:         w.lastRound,
		Collected:     w.lastCollected,
		Active:        w.lastActive,
		FailedProfile: identifier,
		Failures:      consecutiveFailures,
	})
}

// ReportDone は収集完了の進捗を書き出す。
func (w *ProgressWriter) ReportDone(collected int) {
	w.write(progressSnapshot{
		Status:    "done",
		Phase:     "done",
		Round:     w.lastRound,
		Collected: collected,
	})
}

// ReportResult はスナップショット書き込み後の最終結果を書き出す。
// 完了スナップショットにnewest/oldestと最終件数を反映する。
func (w *ProgressWriter) ReportResult(cf *model.CacheFile) {
	w.write(progressSnapshot{
		Status:          "done",
		Phase:           "done",
		Round:           w.lastRound,
		Collected:       cf.Total,
		NewestCreatedAt: cf.NewestCreatedAt,
		OldestCreatedAt: cf.OldestCreatedAt,
	})
}

func (w *ProgressWriter) write(snap progressSnapshot) {
	snap.RunID = w.runID
	snap.Mode = w.info.Mode
	snap.Target = w.info.Target
	snap.PageSize = w.info.PageSize
	snap.Concurrency = w.info.Concurrency
	snap.Profiles = w.info.Profiles
	snap.MaxRounds = w.info.MaxRounds
	snap.Cutoff = w.info.Cutoff
	snap.StartedAt = w.started.UTC().Format(time.RFC3339)
	snap.ElapsedMs = time.Since(w.started).Milliseconds()
	snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		w.logger.Warn("進捗ファイルの書き込みに失敗しました",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	}
}
