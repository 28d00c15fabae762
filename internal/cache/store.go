// Package cache はホームフィードスナップショットの永続化と提供を行う。
// スナップショットの読み書き、カーソルページング、ビルダー、
// ライブ取得とのハイブリッドマージを含む。
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hitoshi/coindeck/internal/model"
)

// Store はスナップショットファイルの読み書きを行う。
// 書き込みはバッチビルダーのみが行い、リクエスト処理系は読み取り専用で使う。
// この分離によりファイルの読み書き競合を回避している。
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore はStore の新しいインスタンスを生成する。
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path はスナップショットファイルのパスを返す。
func (s *Store) Path() string {
	return s.path
}

// Read はスナップショットを読み込む。
// ファイルが存在しない、読めない、またはパースできない場合はnilを返す。
// スナップショット不在は正常系として扱う（初回起動時など）。
func (s *Store) Read() *model.CacheFile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("スナップショットの読み込みに失敗しました",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	var cf model.CacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		s.logger.Warn("スナップショットのパースに失敗しました",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if len(cf.Items) == 0 {
		return nil
	}
	return &cf
}

// Write はスナップショットをアトミックに書き込む。
// 一時ファイルへ書き込んでからリネームするため、読み取り側が
// 中途半端な状態のファイルを観測することはない。
func (s *Store) Write(cf *model.CacheFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("スナップショットディレクトリの作成に失敗しました: %w", err)
	}

	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("スナップショットのシリアライズに失敗しました: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("一時ファイルの書き込みに失敗しました: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("スナップショットの置き換えに失敗しました: %w", err)
	}

	s.logger.Info("スナップショットを書き込みました",
		slog.String("path", s.path),
		slog.Int("total", cf.Total),
		slog.String("mode", cf.Mode),
	)
	return nil
}
