package model

// CacheFileVersion は現行のスナップショットスキーマバージョン。
const CacheFileVersion = 1

// CacheFile はホームフィードの永続スナップショットを表す。
// itemsはcreatedAt降順・ID重複なしの状態で書き込まれる。
// ファイルの書き込みはバッチビルダーのみが行い、提供系は読み取り専用。
type CacheFile struct {
	Version         int        `json:"version"`
	GeneratedAt     string     `json:"generatedAt"`
	Profiles        []string   `json:"profiles"`
	Mode            string     `json:"mode,omitempty"`
	NewestCreatedAt string     `json:"newestCreatedAt,omitempty"`
	OldestCreatedAt string     `json:"oldestCreatedAt,omitempty"`
	Total           int        `json:"total"`
	Items           []FeedItem `json:"items"`
}
